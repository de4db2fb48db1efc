// Package wrender turns retained display lists into minimal, ordered GPU
// work every frame.
//
// # Overview
//
// Clients describe what to draw as a display list: a tree of rectangles,
// images, text runs, clips, transforms, scroll frames and stacking
// contexts. wrender resolves the list into spatial and clip trees, caches
// rasterized content in tiles that are only redrawn when their content
// fingerprint changes, keeps per-primitive data in a versioned GPU cache
// and images in a texture atlas cache, and batches what remains into as few
// draw calls as possible.
//
// wrender never owns a window or a GPU context. Each generated Frame lists
// texture updates, GPU cache updates, render passes and a final composite
// for an external GPU layer to execute (see package gpu).
//
// # Quick Start
//
//	api, err := wrender.New(wrender.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	defer api.Close()
//
//	doc, _ := api.AddDocument(picture.View{Width: 800, Height: 600, DevicePixelRatio: 1})
//
//	list := display.NewBuilder(display.RGBA(255, 255, 255, 255)).
//		Rect(geom.RectXYWH(0, 0, 100, 100), display.RGBA(255, 0, 0, 255), 1).
//		Finish()
//
//	txn := wrender.NewTransaction().
//		SetDisplayList(1, list).
//		GenerateFrame()
//	if err := api.Send(ctx, doc, txn); err != nil {
//		return err
//	}
//
//	f, _ := api.Queue().Acquire(doc)
//
// # Documents
//
// Every document is served by its own actor goroutine (package backend),
// so documents build frames in parallel while the messages of one
// document are applied strictly in order. Hit tests read an immutable
// snapshot and never wait for frame building.
//
// # Architecture
//
// The module is organized into:
//   - Content model: display (lists), resource (images, fonts, blobs)
//   - Resolution: spatial (transforms, scrolling, clips), scene
//   - Caching: picture (tiles), texcache (atlases), gpucache (blocks)
//   - Output: batch, shader, frame
//   - Orchestration: backend (document actors), gpu (consumer side)
//   - Ambient: config (YAML, hot reload)
package wrender
