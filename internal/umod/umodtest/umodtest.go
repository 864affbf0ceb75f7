// Package umodtest writes small umod packages for tests.
package umodtest

import (
	"bytes"
	"encoding/binary"
	"os"
)

const signature uint32 = 0x9FE3C5A3

// Entry is one file written into a test package
type Entry struct {
	Name string
	Data string
}

// WriteIndex appends v in the compact index encoding
func WriteIndex(buf *bytes.Buffer, v int32) {
	negative := v < 0
	if negative {
		v = -v
	}
	b := byte(v & 0x3F)
	if negative {
		b |= 0x80
	}
	v >>= 6
	if v > 0 {
		b |= 0x40
	}
	buf.WriteByte(b)
	for v > 0 {
		b = byte(v & 0x7F)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

// Build returns a version 1 package holding entries in order
func Build(entries []Entry) []byte {
	buf := &bytes.Buffer{}
	offsets := make([]int, len(entries))
	for i, e := range entries {
		offsets[i] = buf.Len()
		buf.WriteString(e.Data)
	}
	dirOffset := buf.Len()
	WriteIndex(buf, int32(len(entries)))
	for i, e := range entries {
		WriteIndex(buf, int32(len(e.Name)+1))
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		binary.Write(buf, binary.LittleEndian, []uint32{
			uint32(offsets[i]), uint32(len(e.Data)), 0x03,
		})
	}
	size := buf.Len() + 20
	binary.Write(buf, binary.LittleEndian, []uint32{
		signature, uint32(dirOffset), uint32(size), 1, 0,
	})
	return buf.Bytes()
}

// Write writes a package holding entries to path
func Write(path string, entries []Entry) error {
	return os.WriteFile(path, Build(entries), 0644)
}
