// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu is the boundary between frame building and GPU submission.
//
// Frames produced by the backend are plain data. This package provides what
// a GPU layer needs to consume them:
//
//   - FrameQueue holds the latest frame of each document. A frame pushed
//     before the previous one was acquired supersedes it; the older frame's
//     updates are carried by the newer one so no cache update is lost.
//   - Applier applies texture cache and GPU cache updates in order and hands
//     the passes and composite to an Executor.
//   - A Registry of consumer factories, selected by priority.
//   - Capabilities derived from a gpucontext.DeviceProvider.
//
// Typical consumer loop:
//
//	q := gpu.NewFrameQueue()
//	applier := gpu.NewApplier(creator, executor, ack)
//	for range q.Ready() {
//		for _, doc := range q.Pending() {
//			f, _ := q.Acquire(doc)
//			if err := applier.Execute(f); err != nil {
//				log.Print(err)
//			}
//		}
//	}
package gpu
