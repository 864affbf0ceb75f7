package repack

import (
	"context"
	"io"
	"umod-repack/internal/umod"
)

// Archiver detects, extracts and creates archives
type Archiver interface {
	IsArchive(path string) bool
	Extract(ctx context.Context, src, dest string) error
	CreateZip(ctx context.Context, srcDir, dest string) error
	CleanPath(path string) error
}

// Entry is one file held in a target package
type Entry interface {
	Name() string
	Open() (io.Reader, error)
}

// Package is an open target package. Close must be called once the entries
// are no longer needed.
type Package interface {
	Entries() []Entry
	Close() error
}

// Decoder opens target packages
type Decoder interface {
	Open(path string) (Package, error)
}

// UmodDecoder opens packages with the umod reader
type UmodDecoder struct{}

// Open implements Decoder
func (UmodDecoder) Open(path string) (Package, error) {
	p, err := umod.Open(path)
	if err != nil {
		return nil, err
	}
	return umodPackage{p}, nil
}

type umodPackage struct {
	*umod.Package
}

func (p umodPackage) Entries() []Entry {
	entries := make([]Entry, len(p.Files))
	for i, f := range p.Files {
		entries[i] = umodEntry{f}
	}
	return entries
}

type umodEntry struct {
	f *umod.File
}

func (e umodEntry) Name() string {
	return e.f.Name
}

func (e umodEntry) Open() (io.Reader, error) {
	return e.f.Open(), nil
}
