package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	"umod-repack/internal/models"
	"umod-repack/internal/store"

	"github.com/stretchr/testify/require"
)

func jobLastActiveAt(t *testing.T, at time.Time) *models.Job {
	return models.RestoreJob(models.Snapshot{
		ID:    "job-" + at.Format("150405.000000"),
		State: models.StateCompleted,
		Log: []models.LogEntry{
			{Time: at.Add(-time.Hour).UnixMilli(), Message: "created", Type: models.LogInfo},
			{Time: at.UnixMilli(), Message: "done", Type: models.LogGood},
		},
	})
}

func addArtifact(t *testing.T, job *models.Job) string {
	dir, err := os.MkdirTemp(t.TempDir(), "ua-umod-out")
	require.NoError(t, err)
	p := filepath.Join(dir, "Mod.umod.zip")
	require.NoError(t, os.WriteFile(p, []byte("zip"), 0644))
	job.AddArtifact(p)
	return p
}

func TestSweep(t *testing.T) {
	now := time.Now()
	jobs := store.New()

	fresh := jobLastActiveAt(t, now.Add(-time.Hour))
	freshFile := addArtifact(t, fresh)
	staleFiles := jobLastActiveAt(t, now.Add(-13*time.Hour))
	staleFile := addArtifact(t, staleFiles)
	expired := jobLastActiveAt(t, now.Add(-37*time.Hour))
	expiredFile := addArtifact(t, expired)
	for _, j := range []*models.Job{fresh, staleFiles, expired} {
		require.True(t, jobs.Track(j))
	}

	r := New(jobs)
	r.now = func() time.Time { return now }
	r.Sweep()

	// young job keeps everything
	_, ok := jobs.Get(fresh.ID())
	require.True(t, ok)
	_, ok = fresh.Artifact("Mod.umod.zip")
	require.True(t, ok)
	require.FileExists(t, freshFile)

	// artifacts past retention are deleted, the job stays
	_, ok = jobs.Get(staleFiles.ID())
	require.True(t, ok)
	_, ok = staleFiles.Artifact("Mod.umod.zip")
	require.False(t, ok)
	require.NoFileExists(t, staleFile)
	require.NoDirExists(t, filepath.Dir(staleFile))
	require.Equal(t, []string{"Mod.umod.zip"}, staleFiles.Snapshot().Files)

	// jobs past retention are forgotten
	_, ok = jobs.Get(expired.ID())
	require.False(t, ok)
	require.NoFileExists(t, expiredFile)
}

func TestSweepIgnoresCompletion(t *testing.T) {
	now := time.Now()
	jobs := store.New()
	stuck := models.RestoreJob(models.Snapshot{
		ID:    "stuck",
		State: models.StateBusy,
		Log:   []models.LogEntry{{Time: now.Add(-40 * time.Hour).UnixMilli(), Message: "busy"}},
	})
	jobs.Track(stuck)

	r := New(jobs)
	r.now = func() time.Time { return now }
	r.Sweep()
	require.Equal(t, 0, jobs.Count())
}

func TestSweepDropsMappingWhenDeleteFails(t *testing.T) {
	now := time.Now()
	jobs := store.New()
	job := jobLastActiveAt(t, now.Add(-20*time.Hour))
	// a non-empty directory cannot be removed with os.Remove
	dir := filepath.Join(t.TempDir(), "Mod.umod.zip")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "child"), 0755))
	job.AddArtifact(dir)
	jobs.Track(job)

	r := New(jobs)
	r.now = func() time.Time { return now }
	r.Sweep()

	_, ok := job.Artifact("Mod.umod.zip")
	require.False(t, ok)
	require.DirExists(t, dir)
}

func TestStartStopsOnCancel(t *testing.T) {
	jobs := store.New()
	jobs.Track(jobLastActiveAt(t, time.Now().Add(-48*time.Hour)))

	r := New(jobs)
	r.period = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return jobs.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
