package umod

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"umod-repack/internal/umod/umodtest"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	long := "Maps\\" + strings.Repeat("VeryLongMapName", 8) + ".unr"
	entries := []umodtest.Entry{
		{Name: "System\\Manifest.ini", Data: "[Setup]\nProduct=Test\n"},
		{Name: "System\\Test.u", Data: "package bytes"},
		{Name: long, Data: strings.Repeat("m", 9000)},
		{Name: "Help\\Empty.txt", Data: ""},
	}
	path := filepath.Join(t.TempDir(), "Test.umod")
	require.NoError(t, umodtest.Write(path, entries))

	p, err := Open(path)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, uint32(1), p.Version)
	require.Len(t, p.Files, len(entries))
	for i, e := range entries {
		f := p.Files[i]
		require.Equal(t, e.Name, f.Name)
		data, err := io.ReadAll(f.Open())
		require.NoError(t, err)
		require.Equal(t, e.Data, string(data))
	}
}

func TestOpenInvalidSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.umod")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 64), 0644))
	_, err := Open(path)
	require.ErrorIs(t, err, ErrInvalidSignature)

	short := filepath.Join(t.TempDir(), "short.umod")
	require.NoError(t, os.WriteFile(short, []byte("tiny"), 0644))
	_, err = Open(short)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.umod"))
	require.Error(t, err)
}

func TestCompactIndex(t *testing.T) {
	for _, v := range []int32{0, 1, 63, 64, 127, 8191, 8192, 1 << 20, -1, -300} {
		buf := &bytes.Buffer{}
		umodtest.WriteIndex(buf, v)
		got, err := readIndex(bufio.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestBuiltTrailer(t *testing.T) {
	b := umodtest.Build(nil)
	require.Len(t, b, 1+trailerSize)
	require.Equal(t, Signature, binary.LittleEndian.Uint32(b[len(b)-trailerSize:]))
}
