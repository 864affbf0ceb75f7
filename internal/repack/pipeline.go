package repack

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"umod-repack/internal/models"

	"github.com/pkg/errors"
)

// Timeouts applied to a single archive extraction and zip creation
const (
	ExtractTimeout = 30 * time.Second
	ZipTimeout     = 30 * time.Second
)

var targetExtensions = map[string]bool{
	"umod":   true,
	"ut2mod": true,
	"ut4mod": true,
}

// IsTargetPackage reports whether path has a mod installer package extension
func IsTargetPackage(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return targetExtensions[ext]
}

// Pipeline converts the packages found in a submission's files into zip
// archives
type Pipeline struct {
	archiver       Archiver
	decoder        Decoder
	tempDir        string
	extractTimeout time.Duration
	zipTimeout     time.Duration
}

// New creates a Pipeline. Temporary directories are created under tempDir,
// or the system default when it is empty.
func New(archiver Archiver, decoder Decoder, tempDir string) *Pipeline {
	return &Pipeline{
		archiver:       archiver,
		decoder:        decoder,
		tempDir:        tempDir,
		extractTimeout: ExtractTimeout,
		zipTimeout:     ZipTimeout,
	}
}

// Process repacks every target package found in files and records the
// outcome on job: COMPLETED when every input held at least one package,
// NO_UMOD otherwise. A returned error means processing was aborted and the
// job has not reached a terminal state. The input files are deleted in all
// cases.
func (p *Pipeline) Process(job *models.Job, files []string) error {
	defer p.removeInputs(job, files)

	found := len(files) > 0
	for _, in := range files {
		hasPackage, err := p.repackFile(job, in)
		if err != nil {
			return err
		}
		found = found && hasPackage
	}

	if found {
		return job.Transition(
			models.StateCompleted,
			models.NewEntry(models.LogGood, "File processing completed"),
		)
	}
	return job.Transition(
		models.StateNoUmod,
		models.NewEntry(models.LogWarn, "There were no UMOD files to process"),
	)
}

// repackFile handles one input, extracting it first if it is an archive. It
// reports whether any target package was found.
func (p *Pipeline) repackFile(job *models.Job, in string) (bool, error) {
	root := in
	if p.archiver.IsArchive(in) {
		dir, err := os.MkdirTemp(p.tempDir, "ua-umod-extract")
		if err != nil {
			return false, errors.Wrap(err, "error creating extraction directory")
		}
		defer p.clean(dir)

		job.Log(models.NewEntry(models.LogInfo, "Extracting archive "+filepath.Base(in)))
		ctx, cancel := context.WithTimeout(context.Background(), p.extractTimeout)
		defer cancel()
		if err := p.archiver.Extract(ctx, in, dir); err != nil {
			return false, err
		}
		root = dir
	}

	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !IsTargetPackage(path) {
			return nil
		}
		found = true
		return p.repackPackage(job, path)
	})
	if err != nil {
		return found, errors.Wrapf(err, "error processing %s", filepath.Base(in))
	}
	return found, nil
}

// repackPackage unpacks one target package, zips the result and registers
// the zip on job. The unpacked tree is always removed.
func (p *Pipeline) repackPackage(job *models.Job, path string) error {
	name := filepath.Base(path)
	if err := job.Transition(
		models.StateBusy,
		models.NewEntry(models.LogInfo, "Found a UMOD file "+name),
	); err != nil {
		return err
	}

	unpacked, tree, err := p.unpack(path)
	if err != nil {
		return errors.Wrapf(err, "error unpacking %s", name)
	}
	defer p.clean(unpacked)

	outDir, err := os.MkdirTemp(p.tempDir, "ua-umod-out")
	if err != nil {
		return errors.Wrap(err, "error creating output directory")
	}
	zipped := filepath.Join(outDir, SafeFileName(name)+".zip")
	job.Log(models.NewEntry(models.LogInfo, "Creating zip file "+filepath.Base(zipped)))

	ctx, cancel := context.WithTimeout(context.Background(), p.zipTimeout)
	defer cancel()
	if err := p.archiver.CreateZip(ctx, tree, zipped); err != nil {
		p.clean(outDir)
		return err
	}
	job.AddArtifact(zipped)
	return nil
}

func (p *Pipeline) clean(path string) {
	if err := p.archiver.CleanPath(path); err != nil {
		log.Printf("[REPACK] Failed to clean up %s: %v", path, err)
	}
}

func (p *Pipeline) removeInputs(job *models.Job, files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Printf("[REPACK] Failed to delete file %s for job %s: %v", f, job.ID(), err)
		}
	}
}
