package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	a := NewJob()
	b := NewJob()
	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, StateCreated, a.State())
	require.Empty(t, a.Snapshot().Log)
}

func TestStateGraph(t *testing.T) {
	tests := []struct {
		from, to JobState
		allowed  bool
	}{
		{StateCreated, StateBusy, true},
		{StateCreated, StateFailed, true},
		{StateCreated, StateCompleted, false},
		{StateBusy, StateBusy, true},
		{StateBusy, StateNoUmod, true},
		{StateBusy, StateFailed, true},
		{StateBusy, StateCompleted, true},
		{StateBusy, StateCreated, false},
		{StateCompleted, StateBusy, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateFailed, true},
		{StateNoUmod, StateCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionRejected(t *testing.T) {
	j := NewJob()
	require.NoError(t, j.Transition(StateBusy, NewEntry(LogInfo, "busy")))
	require.NoError(t, j.Transition(StateCompleted, NewEntry(LogGood, "done")))
	err := j.Transition(StateBusy, NewEntry(LogInfo, "again"))
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateCompleted, j.State())
	require.Len(t, j.Snapshot().Log, 2)

	// plain log entries keep the terminal state
	j.Log(NewEntry(LogInfo, "trailing"))
	require.Equal(t, StateCompleted, j.State())
	require.Len(t, j.Snapshot().Log, 3)
}

func TestPollLogIncremental(t *testing.T) {
	j := NewJob()
	j.Log(NewEntry(LogInfo, "one"))
	j.Log(NewEntry(LogInfo, "two"))

	s := j.PollLog(10 * time.Millisecond)
	require.Len(t, s.Log, 2)
	require.Equal(t, "one", s.Log[0].Message)
	require.False(t, s.Done)

	s = j.PollLog(10 * time.Millisecond)
	require.Empty(t, s.Log)
	require.False(t, s.Done)

	require.NoError(t, j.Transition(StateBusy, NewEntry(LogInfo, "three")))
	require.NoError(t, j.Transition(StateNoUmod, NewEntry(LogWarn, "four")))
	s = j.PollLog(10 * time.Millisecond)
	require.Len(t, s.Log, 2)
	require.Equal(t, "four", s.Log[1].Message)
	require.True(t, s.Done)
	require.Equal(t, StateNoUmod, s.State)

	s = j.PollLog(10 * time.Millisecond)
	require.Empty(t, s.Log)
	require.True(t, s.Done)

	// the durable log holds everything
	require.Len(t, j.Snapshot().Log, 4)
}

func TestPollLogWaitsForEntry(t *testing.T) {
	j := NewJob()
	go func() {
		time.Sleep(20 * time.Millisecond)
		j.Log(NewEntry(LogInfo, "late"))
	}()
	s := j.PollLog(2 * time.Second)
	require.Len(t, s.Log, 1)
	require.Equal(t, "late", s.Log[0].Message)
}

func TestLiveEventsDropWhenFull(t *testing.T) {
	j := NewJob()
	for i := 0; i < LiveEventCapacity+5; i++ {
		j.Log(NewEntry(LogInfo, "entry"))
	}
	s := j.PollLog(time.Millisecond)
	require.Len(t, s.Log, LiveEventCapacity)
	require.Len(t, j.Snapshot().Log, LiveEventCapacity+5)
}

func TestArtifacts(t *testing.T) {
	j := NewJob()
	name := j.AddArtifact("/tmp/out/Foo.umod.zip")
	require.Equal(t, "Foo.umod.zip", name)
	p, ok := j.Artifact(name)
	require.True(t, ok)
	require.Equal(t, "/tmp/out/Foo.umod.zip", p)

	taken := j.TakeArtifacts()
	require.Len(t, taken, 1)
	_, ok = j.Artifact(name)
	require.False(t, ok)
	// the name stays in the file set
	require.Equal(t, []string{"Foo.umod.zip"}, j.Snapshot().Files)
}

func TestArtifactNamesStayUnique(t *testing.T) {
	j := NewJob()
	require.Equal(t, "Mod.umod.zip", j.AddArtifact("/tmp/out1/Mod.umod.zip"))
	require.Equal(t, "Mod.umod-2.zip", j.AddArtifact("/tmp/out2/Mod.umod.zip"))
	require.Equal(t, "Mod.umod-3.zip", j.AddArtifact("/tmp/out3/Mod.umod.zip"))

	taken := j.TakeArtifacts()
	require.Equal(t, map[string]string{
		"Mod.umod.zip":   "/tmp/out1/Mod.umod.zip",
		"Mod.umod-2.zip": "/tmp/out2/Mod.umod.zip",
		"Mod.umod-3.zip": "/tmp/out3/Mod.umod.zip",
	}, taken)

	// reaped names are not reused
	require.Equal(t, "Mod.umod-4.zip", j.AddArtifact("/tmp/out4/Mod.umod.zip"))
}

func TestLastActivity(t *testing.T) {
	j := NewJob()
	require.WithinDuration(t, time.Now(), j.LastActivity(), time.Second)

	old := time.Now().Add(-48 * time.Hour)
	r := RestoreJob(Snapshot{
		ID:    "abc",
		State: StateCompleted,
		Log:   []LogEntry{{Time: old.UnixMilli(), Message: "old", Type: LogGood}},
	})
	require.Equal(t, old.UnixMilli(), r.LastActivity().UnixMilli())
}

func TestSnapshotRoundTrip(t *testing.T) {
	j := NewJob()
	require.NoError(t, j.Transition(StateBusy, NewEntry(LogInfo, "Found a UMOD file")))
	j.AddArtifact("/tmp/a/One.umod.zip")
	j.AddArtifact("/tmp/b/Two.ut2mod.zip")
	require.NoError(t, j.Transition(
		StateFailed,
		NewErrorEntry("There was an error", errTest("boom")),
	))

	data, err := json.Marshal(j.Snapshot())
	require.NoError(t, err)

	var s Snapshot
	require.NoError(t, json.Unmarshal(data, &s))
	r := RestoreJob(s)
	got := r.Snapshot()
	want := j.Snapshot()

	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.Files, got.Files)
	require.Equal(t, want.Log, got.Log)
	require.Equal(t, "boom", got.Log[1].Error)

	// transient state is not carried over
	_, ok := r.Artifact("One.umod.zip")
	require.False(t, ok)
}

type errTest string

func (e errTest) Error() string { return string(e) }
