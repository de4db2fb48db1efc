// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"slices"
	"sync"

	"github.com/gogpu/wrender/frame"
)

// FrameSink receives generated frames.
type FrameSink interface {
	PushFrame(f *frame.Frame)
}

type queueSlot struct {
	pending    *frame.Frame
	last       *frame.Frame
	superseded uint64
}

// FrameQueue keeps the latest unconsumed frame of each document.
//
// Pushing a frame while an older one is still pending supersedes the older
// one: the queued frame is a copy of the new frame whose Carried list holds
// the superseded frames, so their updates are still applied but their
// composites are never executed. FrameQueue is safe for concurrent use.
type FrameQueue struct {
	mu    sync.Mutex
	slots map[frame.DocumentID]*queueSlot
	ready chan struct{}
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{
		slots: make(map[frame.DocumentID]*queueSlot),
		ready: make(chan struct{}, 1),
	}
}

func (q *FrameQueue) slot(doc frame.DocumentID) *queueSlot {
	s := q.slots[doc]
	if s == nil {
		s = &queueSlot{}
		q.slots[doc] = s
	}
	return s
}

// PushFrame queues f as the latest frame of its document.
func (q *FrameQueue) PushFrame(f *frame.Frame) {
	if f == nil {
		return
	}
	q.mu.Lock()
	s := q.slot(f.Document)
	if old := s.pending; old != nil {
		nf := *f
		nf.Carried = slices.Concat(old.Chain(), f.Carried)
		f = &nf
		s.superseded++
		slogger().Debug("gpu: frame superseded",
			"document", uint64(old.Document), "epoch", uint64(old.Epoch), "by", uint64(f.Epoch))
	}
	s.pending = f
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a value after frames were pushed.
// One receive may stand for several pushes.
func (q *FrameQueue) Ready() <-chan struct{} { return q.ready }

// Pending returns the documents with a queued frame, in id order.
func (q *FrameQueue) Pending() []frame.DocumentID {
	q.mu.Lock()
	defer q.mu.Unlock()
	var docs []frame.DocumentID
	for doc, s := range q.slots {
		if s.pending != nil {
			docs = append(docs, doc)
		}
	}
	slices.Sort(docs)
	return docs
}

// Acquire removes and returns the queued frame of doc.
func (q *FrameQueue) Acquire(doc frame.DocumentID) (*frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slots[doc]
	if s == nil || s.pending == nil {
		return nil, false
	}
	f := s.pending
	s.pending = nil
	s.last = f
	return f, true
}

// Replay returns the last acquired frame of doc for redrawing it, for
// example after the window was exposed. Its updates were already applied
// and must not be applied again.
func (q *FrameQueue) Replay(doc frame.DocumentID) (*frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slots[doc]
	if s == nil || s.last == nil {
		return nil, false
	}
	return s.last, true
}

// Superseded returns how many frames of doc were superseded before being
// acquired.
func (q *FrameQueue) Superseded(doc frame.DocumentID) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s := q.slots[doc]; s != nil {
		return s.superseded
	}
	return 0
}

// Remove forgets doc.
func (q *FrameQueue) Remove(doc frame.DocumentID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.slots, doc)
}
