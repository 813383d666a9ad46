package drm

import "encoding/binary"

const (
	eventHeaderSize = 8
	eventVBlankSize = 32
)

// ParseEvents decodes a buffer read from the device descriptor. Unknown
// event types are skipped using their length field; a truncated trailing
// record is dropped.
func ParseEvents(buf []byte) []Event {
	var events []Event
	le := binary.LittleEndian
	for off := 0; off+eventHeaderSize <= len(buf); {
		typ := le.Uint32(buf[off:])
		length := int(le.Uint32(buf[off+4:]))
		if length < eventHeaderSize || off+length > len(buf) {
			break
		}
		if (typ == EventVBlank || typ == EventFlipComplete) && length >= eventVBlankSize {
			rec := buf[off : off+length]
			events = append(events, Event{
				Type:     typ,
				UserData: le.Uint64(rec[8:]),
				Sec:      le.Uint32(rec[16:]),
				Usec:     le.Uint32(rec[20:]),
				Sequence: le.Uint32(rec[24:]),
				CrtcID:   le.Uint32(rec[28:]),
			})
		}
		off += length
	}
	return events
}

// EncodeEvent is the inverse of ParseEvents for one vblank-style record.
func EncodeEvent(ev Event) []byte {
	buf := make([]byte, eventVBlankSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], ev.Type)
	le.PutUint32(buf[4:], eventVBlankSize)
	le.PutUint64(buf[8:], ev.UserData)
	le.PutUint32(buf[16:], ev.Sec)
	le.PutUint32(buf[20:], ev.Usec)
	le.PutUint32(buf[24:], ev.Sequence)
	le.PutUint32(buf[28:], ev.CrtcID)
	return buf
}
