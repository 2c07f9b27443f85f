package btree

import (
	"encoding/binary"

	"corestore/storage/page"
)

// The header page (page.Header, id 0) stores index_name -> root_page_id
// records per spec.md §4.4.7 / §6, in its own format distinct from
// node/leaf pages: a record count, followed by that many
// [nameLen uint16][name bytes][rootPageID uint32] entries.

func readHeaderRecords(pg *page.Page) map[string]page.ID {
	data := &pg.Data
	count := binary.BigEndian.Uint16(data[0:])
	records := make(map[string]page.ID, count)
	off := 2
	for i := uint16(0); i < count; i++ {
		nameLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		name := string(data[off : off+nameLen])
		off += nameLen
		root := page.ID(binary.BigEndian.Uint32(data[off:]))
		off += 4
		records[name] = root
	}
	return records
}

func writeHeaderRecords(pg *page.Page, records map[string]page.ID) {
	data := &pg.Data
	binary.BigEndian.PutUint16(data[0:], uint16(len(records)))
	off := 2
	for name, root := range records {
		binary.BigEndian.PutUint16(data[off:], uint16(len(name)))
		off += 2
		copy(data[off:], name)
		off += len(name)
		binary.BigEndian.PutUint32(data[off:], uint32(root))
		off += 4
	}
	for i := off; i < page.Size; i++ {
		data[i] = 0
	}
}
