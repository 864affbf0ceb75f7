// Package umod reads Unreal Engine mod installer packages (.umod, .ut2mod,
// .ut4mod). A package is a flat concatenation of file payloads followed by a
// directory and a fixed 20 byte trailer.
package umod

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"strings"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// Signature is the magic number that opens a package trailer
const Signature uint32 = 0x9FE3C5A3

const trailerSize = 20

// ErrInvalidSignature is returned when a file does not end in a package
// trailer
var ErrInvalidSignature = errors.New("invalid umod signature")

// File is one entry in a package directory
type File struct {
	Name   string
	Offset int64
	Size   int64
	Flags  uint32

	r io.ReaderAt
}

// Open returns a reader over the entry's bytes
func (f *File) Open() io.Reader {
	return io.NewSectionReader(f.r, f.Offset, f.Size)
}

// Package is an open package file
type Package struct {
	Version uint32
	Size    uint32
	CRC     uint32
	Files   []*File

	f *os.File
}

// Open reads the trailer and directory of the package at path. The returned
// Package holds the file open until Close is called.
func Open(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening umod")
	}
	p, err := read(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "error reading umod %s", path)
	}
	return p, nil
}

func read(f *os.File) (*Package, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := info.Size()
	if fileSize < trailerSize {
		return nil, ErrInvalidSignature
	}

	var trailer [trailerSize]byte
	if _, err := f.ReadAt(trailer[:], fileSize-trailerSize); err != nil {
		return nil, errors.Wrap(err, "error reading trailer")
	}
	if binary.LittleEndian.Uint32(trailer[0:4]) != Signature {
		return nil, ErrInvalidSignature
	}
	dirOffset := int64(binary.LittleEndian.Uint32(trailer[4:8]))
	p := &Package{
		Size:    binary.LittleEndian.Uint32(trailer[8:12]),
		Version: binary.LittleEndian.Uint32(trailer[12:16]),
		CRC:     binary.LittleEndian.Uint32(trailer[16:20]),
		f:       f,
	}
	if dirOffset >= fileSize-trailerSize {
		return nil, errors.Errorf("directory offset %d out of range", dirOffset)
	}

	r := bufio.NewReader(io.NewSectionReader(f, dirOffset, fileSize-trailerSize-dirOffset))
	count, err := readIndex(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading directory size")
	}
	if count < 0 {
		return nil, errors.Errorf("invalid directory size %d", count)
	}
	for i := int32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading name of entry %d", i)
		}
		var fields [3]uint32
		if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
			return nil, errors.Wrapf(err, "error reading entry %s", name)
		}
		file := &File{
			Name:   name,
			Offset: int64(fields[0]),
			Size:   int64(fields[1]),
			Flags:  fields[2],
			r:      f,
		}
		if file.Offset+file.Size > dirOffset {
			return nil, errors.Errorf("entry %s exceeds package bounds", name)
		}
		p.Files = append(p.Files, file)
	}
	return p, nil
}

// Close releases the underlying file
func (p *Package) Close() error {
	return p.f.Close()
}

// readIndex decodes an Unreal compact index: the first byte carries a sign bit,
// a continuation bit and six value bits; later bytes carry a continuation bit
// and seven value bits.
func readIndex(r io.ByteReader) (int32, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	negative := b&0x80 != 0
	value := int32(b & 0x3F)
	if b&0x40 != 0 {
		shift := uint(6)
		for i := 0; i < 4; i++ {
			b, err = r.ReadByte()
			if err != nil {
				return 0, err
			}
			value |= int32(b&0x7F) << shift
			shift += 7
			if b&0x80 == 0 {
				break
			}
		}
	}
	if negative {
		value = -value
	}
	return value, nil
}

// readString decodes a length-prefixed, NUL-terminated string. A negative
// length marks UTF-16LE characters.
func readString(r *bufio.Reader) (string, error) {
	length, err := readIndex(r)
	if err != nil {
		return "", err
	}
	if length >= 0 {
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return strings.TrimRight(string(buf), "\x00"), nil
	}
	units := make([]uint16, -length)
	if err := binary.Read(r, binary.LittleEndian, units); err != nil {
		return "", err
	}
	return strings.TrimRight(string(utf16.Decode(units)), "\x00"), nil
}
