package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"umod-repack/internal/models"

	"github.com/pkg/errors"
)

// Saver stores a processed submission record
type Saver interface {
	Save(record models.SubmissionRecord) error
}

// FileStore writes each submission record as an indented JSON document named
// {submitTime}-{jobId}.json
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore writing into dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "error creating jobs directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// FileName returns the document name used for a record
func FileName(record models.SubmissionRecord) string {
	return fmt.Sprintf("%d-%s.json", record.SubmitTime, record.Job.ID)
}

// Save implements Saver
func (f *FileStore) Save(record models.SubmissionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error encoding submission")
	}
	path := filepath.Join(f.dir, FileName(record))
	return errors.Wrapf(os.WriteFile(path, data, 0644), "error writing %s", path)
}

// load reads a record previously written by Save
func (f *FileStore) load(name string) (models.SubmissionRecord, error) {
	var record models.SubmissionRecord
	data, err := os.ReadFile(filepath.Join(f.dir, filepath.Base(name)))
	if err != nil {
		return record, errors.Wrapf(err, "error reading %s", name)
	}
	return record, errors.Wrapf(json.Unmarshal(data, &record), "error decoding %s", name)
}

// Multi saves to every Saver in turn. Every Saver is attempted; the first
// error is returned.
type Multi []Saver

// Save implements Saver
func (m Multi) Save(record models.SubmissionRecord) error {
	var first error
	for _, s := range m {
		if err := s.Save(record); err != nil && first == nil {
			first = err
		}
	}
	return first
}
