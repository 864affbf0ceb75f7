package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when an extraction or zip operation does not finish
// before its context is done
var ErrTimeout = errors.New("archive operation timed out")

// Util detects, extracts and creates archives
type Util struct{}

// New creates a Util
func New() *Util {
	return &Util{}
}

// IsArchive reports whether path names an archive format that can be
// extracted
func (u *Util) IsArchive(path string) bool {
	_, err := unarchiverFor(path)
	return err == nil
}

func unarchiverFor(path string) (archiver.Unarchiver, error) {
	// format checks are case sensitive, uploads are not
	f, err := archiver.ByExtension(strings.ToLower(filepath.Base(path)))
	if err != nil {
		return nil, err
	}
	un, ok := f.(archiver.Unarchiver)
	if !ok {
		return nil, errors.Errorf("format %T of %s cannot be extracted", f, path)
	}
	return un, nil
}

// Extract unpacks the archive at src into dest. If ctx ends first, ErrTimeout
// is returned and dest is removed once the extraction stops writing to it.
func (u *Util) Extract(ctx context.Context, src, dest string) error {
	un, err := unarchiverFor(src)
	if err != nil {
		return errors.Wrap(err, "error detecting archive format")
	}
	err = run(ctx, dest, func() error {
		return un.Unarchive(src, dest)
	})
	return errors.Wrapf(err, "error extracting %s", filepath.Base(src))
}

// CreateZip writes a zip archive at dest holding the contents of srcDir, with
// paths relative to srcDir
func (u *Util) CreateZip(ctx context.Context, srcDir, dest string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return errors.Wrap(err, "error listing zip sources")
	}
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, filepath.Join(srcDir, e.Name()))
	}

	z := archiver.NewZip()
	z.MkdirAll = true
	err = run(ctx, dest, func() error {
		return z.Archive(sources, dest)
	})
	return errors.Wrapf(err, "error creating zip %s", filepath.Base(dest))
}

// CleanPath removes path and everything beneath it
func (u *Util) CleanPath(path string) error {
	return errors.Wrapf(os.RemoveAll(path), "error removing %s", path)
}

// run executes op, giving up when ctx is done. archiver has no cancellation,
// so an abandoned op keeps running and cleanup is removed after it returns.
func run(ctx context.Context, cleanup string, op func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	done := make(chan error, 1)
	go func() {
		done <- op()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			<-done
			os.RemoveAll(cleanup)
		}()
		return errors.Wrap(ErrTimeout, ctx.Err().Error())
	}
}
