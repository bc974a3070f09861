package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	persistlog "github.com/Sod3n/Determenistic.GameFramework/internal/persistence/log"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/redisstore"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/snapshot"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

// played runs a short session and returns its archive.
func played(t *testing.T) snapshot.ArchiveV1 {
	t.Helper()
	id := uuid.New()
	g := demo.New(id)
	exec := network.NewExecutor(g)
	p1, p2 := uuid.New(), uuid.New()
	steps := []struct {
		player uuid.UUID
		action network.Action
	}{
		{p1, &demo.Join{}},
		{p2, &demo.Join{}},
		{p1, &demo.Increment{Amount: 3}},
		{p2, &demo.RollDice{Sides: 20}},
		{p1, &demo.SpawnMarker{Label: "a"}},
		{p2, &demo.Decrement{Amount: 1000}},
		{p1, &demo.VoteDifficulty{Option: "Hard"}},
		{p2, &demo.VoteDifficulty{Option: "Hard"}},
		{p1, &demo.DealCard{Player: p2, Card: 7}},
	}
	for _, s := range steps {
		require.True(t, exec.Execute(s.action, &s.player, func(err error) { t.Fatal(err) }))
	}
	arch, err := snapshot.Capture(g)
	require.NoError(t, err)
	return arch
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayArchive(t *testing.T) {
	arch := played(t)
	path := snapshot.PathFor(t.TempDir(), arch.Header.MatchID)
	require.NoError(t, snapshot.WriteArchive(path, arch))

	out, err := run("--archive", path, "--json")
	require.NoError(t, err)
	var rep Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Equal(t, arch.Header.MatchID, rep.MatchID)
	// The vetoed decrement never reaches the history.
	require.Equal(t, 8, rep.Actions)
	require.Equal(t, arch.Digest, rep.Digest)
	require.Equal(t, 2, rep.Summary.Players)
	require.Equal(t, "Hard", rep.Summary.Difficulty)
	require.Equal(t, 1, rep.Summary.Markers)

	out, err = run("--archive", path)
	require.NoError(t, err)
	require.Contains(t, out, "replay ok")

	_, err = run("--archive", path, "--digest", "nope")
	require.ErrorIs(t, err, ErrDigestMismatch)

	_, err = run("--archive", path, "--match", uuid.NewString())
	require.ErrorContains(t, err, "archive holds match")
}

func TestReplaySyncLogs(t *testing.T) {
	arch := played(t)
	dir := t.TempDir()
	l := persistlog.NewSyncLogger(dir)
	raw := arch.RawHistory()
	for i := 0; i < len(raw); i += 4 {
		end := min(i+4, len(raw))
		require.NoError(t, l.WriteBatch(persistlog.SyncRecord{Time: time.Now(), MatchID: arch.Header.MatchID, Actions: raw[i:end]}))
	}
	require.NoError(t, l.WriteBatch(persistlog.SyncRecord{Time: time.Now(), MatchID: uuid.New(), Actions: raw[:1]}))
	require.NoError(t, l.Close())

	out, err := run("--sync-dir", filepath.Join(dir, "sync"), "--match", arch.Header.MatchID.String(), "--digest", arch.Digest)
	require.NoError(t, err)
	require.Contains(t, out, "actions=8")

	_, err = run("--sync-dir", filepath.Join(dir, "sync"))
	require.ErrorContains(t, err, "requires --match")
}

func TestReplayRedis(t *testing.T) {
	arch := played(t)
	mr := miniredis.RunT(t)
	store := redisstore.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = store.Shutdown() })
	ctx := context.Background()
	id := arch.Header.MatchID
	require.NoError(t, store.Create(ctx, id, arch.Seed, time.Now()))
	require.NoError(t, store.AppendBatch(ctx, id, arch.RawHistory()))
	require.NoError(t, store.Close(ctx, id, arch.Digest, time.Now()))

	out, err := run("--redis", mr.Addr(), "--match", id.String())
	require.NoError(t, err)
	require.Contains(t, out, arch.Digest)

	require.NoError(t, store.Close(ctx, id, "tampered", time.Now()))
	_, err = run("--redis", mr.Addr(), "--match", id.String())
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestReplayNeedsSource(t *testing.T) {
	_, err := run()
	require.ErrorContains(t, err, "is required")
	_, err = run("--archive", "x", "--match", "bad")
	require.ErrorContains(t, err, "--match")
}
