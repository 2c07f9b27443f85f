package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"corestore/storage/page"
)

// nodeHeaderSize is the on-disk header preceding a page's slot array: page
// id, parent page id, kind tag, a padding byte, size, and next-leaf id.
// Pin count, dirty flag, and max-size are frame/runtime metadata per
// spec.md §6 ("max-size ... is not recorded on disk") and are never
// serialized here.
const nodeHeaderSize = 4 + 4 + 1 + 1 + 2 + 4

const slotSize = KeySize + ValueSize

// defaultMaxSize is computed once from PAGE_SIZE and slot width, per
// spec.md §3's max-size policy: capacity minus one, to simplify the split
// threshold.
const defaultMaxSize = (page.Size-nodeHeaderSize)/slotSize - 1

// minSizeFor computes both the underflow floor and the leaf/internal split
// boundary from maxSize. §3's prose gives min_size as ceil((max_size+1)/2),
// but the worked scenario tests (S1/S3/S4) are only consistent with
// floor(max_size/2) — e.g. an order-4 tree's post-split leaves of size 2
// and 3, and a leaf dropping to size 2 counting as exactly at the floor,
// not one below it. The scenarios are the testable ground truth, so this
// follows them; see DESIGN.md.
func minSizeFor(maxSize int) int {
	return maxSize / 2
}

// encodeNode serializes n into pg's data buffer.
func encodeNode(n *node, pg *page.Page) {
	data := &pg.Data
	binary.BigEndian.PutUint32(data[0:], uint32(n.id))
	binary.BigEndian.PutUint32(data[4:], uint32(n.parent))
	data[8] = byte(n.kind)
	data[9] = 0
	binary.BigEndian.PutUint16(data[10:], uint16(len(n.keys)))
	binary.BigEndian.PutUint32(data[12:], uint32(n.next))

	off := nodeHeaderSize
	for i := range n.keys {
		copy(data[off:], n.keys[i][:])
		off += KeySize
		copy(data[off:], n.values[i][:])
		off += ValueSize
	}
}

// decodeNode deserializes pg's data buffer, overriding the id field with
// the page's actual id (the on-disk copy is informational, matching the
// teacher's fetchNode: "always override with actual global ID").
func decodeNode(pg *page.Page) (*node, error) {
	data := &pg.Data
	n := &node{
		id:     pg.ID,
		parent: page.ID(binary.BigEndian.Uint32(data[4:])),
		kind:   kind(data[8]),
		next:   page.ID(binary.BigEndian.Uint32(data[12:])),
	}
	if n.kind != kindInternal && n.kind != kindLeaf {
		return nil, errors.Errorf("btree: page %d has invalid kind tag %d", pg.ID, data[8])
	}
	size := int(binary.BigEndian.Uint16(data[10:]))

	n.keys = make([]Key, size)
	n.values = make([]Value, size)
	off := nodeHeaderSize
	for i := 0; i < size; i++ {
		copy(n.keys[i][:], data[off:off+KeySize])
		off += KeySize
		copy(n.values[i][:], data[off:off+ValueSize])
		off += ValueSize
	}
	return n, nil
}
