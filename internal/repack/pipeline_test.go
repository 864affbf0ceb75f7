package repack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"umod-repack/internal/archive"
	"umod-repack/internal/models"
	"umod-repack/internal/umod/umodtest"

	"github.com/stretchr/testify/require"
)

// fakeDecoder reads packages written by writePackage: a JSON object of entry
// name to content
type fakeDecoder struct {
	mu     sync.Mutex
	opened int
	closed int
}

type fakePackage struct {
	d       *fakeDecoder
	entries []Entry
}

type fakeEntry struct {
	name string
	data string
}

func (e fakeEntry) Name() string { return e.name }
func (e fakeEntry) Open() (io.Reader, error) { return strings.NewReader(e.data), nil }

func (p *fakePackage) Entries() []Entry { return p.entries }

func (p *fakePackage) Close() error {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	p.d.closed++
	return nil
}

func (d *fakeDecoder) Open(path string) (Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	p := &fakePackage{d: d}
	for _, name := range names {
		p.entries = append(p.entries, fakeEntry{name: name, data: files[name]})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	return p, nil
}

func writePackage(t *testing.T, path string, files map[string]string) {
	data, err := json.Marshal(files)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// blockingArchiver never finishes an extraction before its context ends
type blockingArchiver struct {
	*archive.Util
}

func (blockingArchiver) Extract(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return archive.ErrTimeout
}

func testPipeline(t *testing.T) (*Pipeline, *fakeDecoder, string) {
	tmp := t.TempDir()
	d := &fakeDecoder{}
	return New(archive.New(), d, tmp), d, tmp
}

func busyJob(t *testing.T) *models.Job {
	job := models.NewJob()
	require.NoError(t, job.Transition(models.StateBusy, models.NewEntry(models.LogInfo, "Picked up")))
	return job
}

func tempEntries(t *testing.T, dir, prefix string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*"))
	require.NoError(t, err)
	return matches
}

func zipNames(t *testing.T, path string) []string {
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

var testPackage = map[string]string{
	`System\Manifest.ini`: "[Setup]",
	`System\Manifest.int`: "[Setup]",
	`System\MyMod.u`:      "code",
	`Maps\DM-MyMap.unr`:   "map",
}

func TestProcessSinglePackage(t *testing.T) {
	p, d, tmp := testPipeline(t)
	in := filepath.Join(t.TempDir(), "MyMod.umod")
	writePackage(t, in, testPackage)

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{in}))

	s := job.Snapshot()
	require.Equal(t, models.StateCompleted, s.State)
	require.Equal(t, []string{"MyMod.umod.zip"}, s.Files)
	require.Equal(t, models.LogGood, s.Log[len(s.Log)-1].Type)

	zipped, ok := job.Artifact("MyMod.umod.zip")
	require.True(t, ok)
	require.Equal(t, []string{"Maps/DM-MyMap.unr", "System/MyMod.u"}, zipNames(t, zipped))

	// input deleted, package handle released, intermediate trees removed
	_, err := os.Stat(in)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 1, d.opened)
	require.Equal(t, 1, d.closed)
	require.Empty(t, tempEntries(t, tmp, "ua-umod-unpacked"))
	require.Len(t, tempEntries(t, tmp, "ua-umod-out"), 1)
}

func TestProcessNoPackage(t *testing.T) {
	p, _, _ := testPipeline(t)
	in := filepath.Join(t.TempDir(), "readme.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello"), 0644))

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{in}))
	s := job.Snapshot()
	require.Equal(t, models.StateNoUmod, s.State)
	require.Equal(t, models.LogWarn, s.Log[len(s.Log)-1].Type)
	require.Empty(t, s.Files)
	_, err := os.Stat(in)
	require.True(t, os.IsNotExist(err))
}

func TestProcessRequiresPackageInEveryInput(t *testing.T) {
	p, _, _ := testPipeline(t)
	dir := t.TempDir()
	withPackage := filepath.Join(dir, "MyMod.ut2mod")
	writePackage(t, withPackage, testPackage)
	without := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(without, []byte("notes"), 0644))

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{withPackage, without}))
	s := job.Snapshot()
	require.Equal(t, models.StateNoUmod, s.State)
	// the package that was present is still repacked
	require.Equal(t, []string{"MyMod.ut2mod.zip"}, s.Files)

	// same outcome regardless of order
	withPackage2 := filepath.Join(dir, "Other.UT4MOD")
	writePackage(t, withPackage2, testPackage)
	without2 := filepath.Join(dir, "notes2.txt")
	require.NoError(t, os.WriteFile(without2, []byte("notes"), 0644))
	job = busyJob(t)
	require.NoError(t, p.Process(job, []string{without2, withPackage2}))
	require.Equal(t, models.StateNoUmod, job.State())
}

func TestProcessNoInputs(t *testing.T) {
	p, _, _ := testPipeline(t)
	job := busyJob(t)
	require.NoError(t, p.Process(job, nil))
	require.Equal(t, models.StateNoUmod, job.State())
}

func TestProcessArchive(t *testing.T) {
	p, _, tmp := testPipeline(t)
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	writePackage(t, filepath.Join(src, "nested", "One.umod"), testPackage)
	writePackage(t, filepath.Join(src, "Two.umod"), testPackage)
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.txt"), []byte("x"), 0644))

	in := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, archive.New().CreateZip(context.Background(), src, in))

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{in}))
	s := job.Snapshot()
	require.Equal(t, models.StateCompleted, s.State)
	require.Equal(t, []string{"One.umod.zip", "Two.umod.zip"}, s.Files)
	require.Empty(t, tempEntries(t, tmp, "ua-umod-extract"))
	require.Empty(t, tempEntries(t, tmp, "ua-umod-unpacked"))
	_, err := os.Stat(in)
	require.True(t, os.IsNotExist(err))
}

func TestProcessExtractionTimeout(t *testing.T) {
	tmp := t.TempDir()
	p := New(blockingArchiver{archive.New()}, &fakeDecoder{}, tmp)
	p.extractTimeout = 50 * time.Millisecond

	in := filepath.Join(t.TempDir(), "slow.zip")
	require.NoError(t, os.WriteFile(in, []byte("not really a zip"), 0644))

	job := busyJob(t)
	err := p.Process(job, []string{in})
	require.ErrorIs(t, err, archive.ErrTimeout)
	require.False(t, job.State().Done())
	require.Empty(t, tempEntries(t, tmp, "ua-umod-extract"))
	_, statErr := os.Stat(in)
	require.True(t, os.IsNotExist(statErr))
}

func TestProcessMalformedPackage(t *testing.T) {
	p, _, tmp := testPipeline(t)
	in := filepath.Join(t.TempDir(), "Broken.umod")
	require.NoError(t, os.WriteFile(in, []byte("garbage"), 0644))

	job := busyJob(t)
	err := p.Process(job, []string{in})
	require.Error(t, err)
	require.Empty(t, job.Snapshot().Files)
	require.Empty(t, tempEntries(t, tmp, "ua-umod-unpacked"))
	require.Empty(t, tempEntries(t, tmp, "ua-umod-out"))
}

func TestProcessSameNamedPackages(t *testing.T) {
	p, _, tmp := testPipeline(t)
	src := t.TempDir()
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(src, dir), 0755))
		writePackage(t, filepath.Join(src, dir, "Mod.umod"), testPackage)
	}
	in := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, archive.New().CreateZip(context.Background(), src, in))

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{in}))
	s := job.Snapshot()
	require.Equal(t, models.StateCompleted, s.State)
	require.Equal(t, []string{"Mod.umod-2.zip", "Mod.umod.zip"}, s.Files)

	// removing every registered artifact leaves no zip behind
	taken := job.TakeArtifacts()
	require.Len(t, taken, 2)
	for _, path := range taken {
		require.NoError(t, os.Remove(path))
	}
	zips, err := filepath.Glob(filepath.Join(tmp, "ua-umod-out*", "*.zip"))
	require.NoError(t, err)
	require.Empty(t, zips)
}

func TestProcessWithUmodDecoder(t *testing.T) {
	tmp := t.TempDir()
	p := New(archive.New(), UmodDecoder{}, tmp)
	in := filepath.Join(t.TempDir(), "MyMod.umod")
	require.NoError(t, umodtest.Write(in, []umodtest.Entry{
		{Name: `System\Manifest.ini`, Data: "[Setup]"},
		{Name: `System\Manifest.int`, Data: "[Setup]"},
		{Name: `System\MyMod.u`, Data: "code"},
		{Name: `Maps\DM-MyMap.unr`, Data: "map"},
	}))

	job := busyJob(t)
	require.NoError(t, p.Process(job, []string{in}))
	s := job.Snapshot()
	require.Equal(t, models.StateCompleted, s.State)
	require.Equal(t, []string{"MyMod.umod.zip"}, s.Files)

	zipped, ok := job.Artifact("MyMod.umod.zip")
	require.True(t, ok)
	require.Equal(t, []string{"Maps/DM-MyMap.unr", "System/MyMod.u"}, zipNames(t, zipped))
	require.Empty(t, tempEntries(t, tmp, "ua-umod-unpacked"))
}

func TestProcessWithUmodDecoderRejectsGarbage(t *testing.T) {
	p := New(archive.New(), UmodDecoder{}, t.TempDir())
	in := filepath.Join(t.TempDir(), "Fake.umod")
	require.NoError(t, os.WriteFile(in, []byte("not a umod at all, too short?"), 0644))

	job := busyJob(t)
	require.Error(t, p.Process(job, []string{in}))
}
