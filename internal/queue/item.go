package queue

import (
	"encoding/binary"
	"hash/crc32"
)

// Item body framing: headerLen(4B BE) | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeItem frames header and payload with a trailing checksum.
func EncodeItem(header, payload []byte) []byte {
	out := make([]byte, 0, 4+len(header)+len(payload)+4)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], uint32(len(header)))
	out = append(out, hb[:]...)
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...)
}

// Decoded is the result of unframing an item body.
type Decoded struct {
	Header  []byte
	Payload []byte
}

// DecodeItem unframes an item body, verifying the checksum.
func DecodeItem(b []byte) (Decoded, bool) {
	if len(b) < 8 {
		return Decoded{}, false
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	// Length math stays in int so a corrupted headerLen cannot wrap.
	headerEnd := 4 + int(hlen)
	if headerEnd+4 > len(b) {
		return Decoded{}, false
	}
	header := b[4:headerEnd]
	payload := b[headerEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{
		Header:  append([]byte(nil), header...),
		Payload: append([]byte(nil), payload...),
	}, true
}
