package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("sitecache: corrupt entry")
	magic4     = [...]byte{'S', 'W', 'C', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is one decoded stored response frame.
type Entry struct {
	Tag      string
	Key      string // normalized request key
	StoredAt time.Time
	Payload  []byte
}

// EncodeEntry frames a codec payload with the generation and request key it belongs to:
//
//	magic(4) | ver(1) | kind(1=entry) | tagLen(u16 be) | tag | keyLen(u16 be) | key |
//	storedAt(i64 be, unix nanos) | plen(u32 be) | payload
func EncodeEntry(tag, key string, storedAt time.Time, payload []byte) ([]byte, error) {
	if l := len(tag); l == 0 || l > 0xFFFF {
		return nil, errors.New("sitecache: invalid tag length")
	}
	if l := len(key); l == 0 || l > 0xFFFF {
		return nil, errors.New("sitecache: invalid key length")
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 2 + len(tag) + 2 + len(key) + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint16(u2[:], uint16(len(tag)))
	buf.Write(u2[:])
	buf.WriteString(tag)

	binary.BigEndian.PutUint16(u2[:], uint16(len(key)))
	buf.Write(u2[:])
	buf.WriteString(key)

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses a frame. Payload aliases b (zero-copy).
// Trailing bytes after the payload are rejected.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if tlen == 0 || tlen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	tag := string(b[off : off+tlen])
	off += tlen

	if off+2 > len(b) {
		return Entry{}, ErrCorrupt
	}
	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen == 0 || klen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+8 > len(b) {
		return Entry{}, ErrCorrupt
	}
	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen != len(b)-off { // exact length; overflow-safe
		return Entry{}, ErrCorrupt
	}

	return Entry{
		Tag:      tag,
		Key:      key,
		StoredAt: time.Unix(0, nanos),
		Payload:  b[off : off+plen],
	}, nil
}
