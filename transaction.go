package wrender

import (
	"github.com/gogpu/wrender/backend"
	"github.com/gogpu/wrender/display"
	"github.com/gogpu/wrender/geom"
	"github.com/gogpu/wrender/picture"
	"github.com/gogpu/wrender/resource"
)

// Transaction is an ordered batch of changes to one document. Its
// messages are applied atomically with respect to hit tests and frames of
// other transactions, in the order they were added.
//
// Example:
//
//	txn := wrender.NewTransaction().
//		AddImage(key, desc, pixels).
//		SetDisplayList(2, list).
//		GenerateFrame()
type Transaction struct {
	msgs []backend.Message
	// res collects consecutive resource updates into one message.
	res []resource.Update
}

// NewTransaction creates an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

func (t *Transaction) add(m backend.Message) *Transaction {
	t.flushResources()
	t.msgs = append(t.msgs, m)
	return t
}

func (t *Transaction) flushResources() {
	if len(t.res) > 0 {
		t.msgs = append(t.msgs, backend.UpdateResources{Updates: t.res})
		t.res = nil
	}
}

// messages returns the batch.
func (t *Transaction) messages() []backend.Message {
	t.flushResources()
	return t.msgs
}

// IsEmpty reports whether the transaction has no messages.
func (t *Transaction) IsEmpty() bool {
	return len(t.msgs) == 0 && len(t.res) == 0
}

// SetDisplayList replaces the document's content. Scroll offsets are reset.
func (t *Transaction) SetDisplayList(epoch uint64, list *display.List) *Transaction {
	return t.add(backend.SetDisplayList{Epoch: epoch, List: list})
}

// SetDisplayListPreservingScroll replaces the document's content, keeping
// the offsets of scroll frames that exist in both lists.
func (t *Transaction) SetDisplayListPreservingScroll(epoch uint64, list *display.List) *Transaction {
	return t.add(backend.SetDisplayList{Epoch: epoch, List: list, PreserveScroll: true})
}

// UpdateResources queues resource updates.
func (t *Transaction) UpdateResources(updates ...resource.Update) *Transaction {
	t.res = append(t.res, updates...)
	return t
}

// AddImage registers an image.
func (t *Transaction) AddImage(key resource.ImageKey, desc resource.ImageDescriptor, data []byte) *Transaction {
	return t.UpdateResources(resource.AddImage{Key: key, Descriptor: desc, Data: data})
}

// UpdateImage replaces an image's pixels. A non-nil dirty limits the
// upload to that rect when the size and format are unchanged.
func (t *Transaction) UpdateImage(key resource.ImageKey, desc resource.ImageDescriptor, data []byte, dirty *geom.IntRect) *Transaction {
	return t.UpdateResources(resource.UpdateImage{Key: key, Descriptor: desc, Data: data, Dirty: dirty})
}

// DeleteImage removes an image.
func (t *Transaction) DeleteImage(key resource.ImageKey) *Transaction {
	return t.UpdateResources(resource.DeleteImage{Key: key})
}

// AddFont registers font data. index selects a face of a collection.
func (t *Transaction) AddFont(key resource.FontKey, data []byte, index int) *Transaction {
	return t.UpdateResources(resource.AddFont{Key: key, Data: data, Index: index})
}

// AddFontInstance registers a sized instance of a font.
func (t *Transaction) AddFontInstance(key resource.FontInstanceKey, font resource.FontKey, size float32, opts resource.FontInstanceOptions) *Transaction {
	return t.UpdateResources(resource.AddFontInstance{Key: key, Font: font, Size: size, Options: opts})
}

// Scroll moves a scroll frame by delta.
func (t *Transaction) Scroll(id display.ScrollID, delta geom.Vector) *Transaction {
	return t.add(backend.Scroll{ID: id, Delta: delta})
}

// ScrollTo sets a scroll frame's offset.
func (t *Transaction) ScrollTo(id display.ScrollID, offset geom.Vector) *Transaction {
	return t.add(backend.ScrollTo{ID: id, Offset: offset})
}

// SetDocumentView sets the document size and device pixel ratio.
func (t *Transaction) SetDocumentView(view picture.View) *Transaction {
	return t.add(backend.SetDocumentView{View: view})
}

// UpdateDynamicProperties sets animated property values.
func (t *Transaction) UpdateDynamicProperties(p display.DynamicProperties) *Transaction {
	return t.add(backend.UpdateDynamicProperties{Properties: p})
}

// GenerateFrame builds a frame after the preceding messages. The frame is
// delivered to the API's frame sink.
func (t *Transaction) GenerateFrame() *Transaction {
	return t.add(backend.GenerateFrame{})
}
