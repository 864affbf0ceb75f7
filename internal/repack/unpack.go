package repack

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const copyBufferSize = 8 * 1024

// entries under this prefix describe the installer itself, not mod content
const manifestPrefix = "system/manifest"

func isManifest(name string) bool {
	n := strings.ToLower(strings.ReplaceAll(name, `\`, "/"))
	return strings.HasPrefix(n, manifestPrefix)
}

// unpack writes every non-manifest entry of the package at path into a fresh
// temporary directory. It returns that directory, which the caller must
// remove, and the tree inside it that mirrors the package layout.
func (p *Pipeline) unpack(path string) (root, tree string, err error) {
	pkg, err := p.decoder.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, "error opening package")
	}
	defer pkg.Close()

	root, err = os.MkdirTemp(p.tempDir, "ua-umod-unpacked")
	if err != nil {
		return "", "", errors.Wrap(err, "error creating unpack directory")
	}
	defer func() {
		if err != nil {
			p.clean(root)
			root, tree = "", ""
		}
	}()

	tree = filepath.Join(root, SafeFileName(filepath.Base(path)))
	if err = os.MkdirAll(tree, 0755); err != nil {
		return root, tree, errors.Wrap(err, "error creating unpack directory")
	}

	buf := make([]byte, copyBufferSize)
	for _, entry := range pkg.Entries() {
		if isManifest(entry.Name()) {
			continue
		}
		var dest string
		if dest, err = entryDest(tree, entry.Name()); err != nil {
			return root, tree, err
		}
		if err = os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return root, tree, errors.Wrapf(err, "error creating directory for %s", entry.Name())
		}
		if err = copyEntry(entry, dest, buf); err != nil {
			return root, tree, errors.Wrapf(err, "error unpacking %s", entry.Name())
		}
	}
	return root, tree, nil
}

func copyEntry(entry Entry, dest string, buf []byte) error {
	r, err := entry.Open()
	if err != nil {
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(out, r, buf); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
