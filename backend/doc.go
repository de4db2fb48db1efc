// Package backend runs one actor goroutine per document.
//
// A Document owns everything needed to build frames for one document: the
// resolved scene, the dynamic property store, the resource table, the
// texture and GPU caches and the frame builder with its picture cache. No
// other goroutine touches that state. Clients send Messages, which the actor
// applies strictly in submission order:
//
//	doc := backend.NewDocument(1, backend.Options{})
//	defer doc.Close()
//
//	reply, err := doc.Do(ctx,
//		backend.SetDocumentView{View: picture.View{Width: 800, Height: 600}},
//		backend.SetDisplayList{Epoch: 1, List: list},
//		backend.GenerateFrame{},
//	)
//
// # Hit testing
//
// After every message that changes spatial state the actor publishes an
// immutable hit-test snapshot. HitTest reads the latest snapshot from any
// goroutine without waiting for the actor, so it never observes a frame
// that is half built.
//
// # Errors
//
// Failures of individual messages are returned from Do joined together; a
// failed message does not stop the rest of the batch. A display list that
// cannot be resolved leaves the document without a scene, and the next
// GenerateFrame returns an empty frame together with the resolve error.
package backend
