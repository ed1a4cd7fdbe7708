package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/core"
)

func turn(text string) core.Turn {
	t := core.NewTurn(text, core.NewUtterance(text, 1))
	t.Finish(core.StatusOK, "re: "+text)
	return *t
}

func texts(turns []core.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Utterance.Text)
	}
	return out
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	const bound = 3
	s, err := Open(context.Background(), nil, Options{HistorySize: bound})
	require.NoError(t, err)

	for i := 0; i <= bound; i++ {
		s.AppendTurn(turn(fmt.Sprintf("t%d", i)))
	}

	got := s.RecentTurns(bound)
	assert.Equal(t, []string{"t1", "t2", "t3"}, texts(got))
	assert.Len(t, s.RecentTurns(0), bound)
	assert.Equal(t, []string{"t3"}, texts(s.RecentTurns(1)))
}

func TestHistoryNeverExceedsBound(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 25; i++ {
		h.Append(turn(fmt.Sprintf("t%d", i)))
		assert.LessOrEqual(t, h.Len(), 4)
	}
	assert.Equal(t, []string{"t21", "t22", "t23", "t24"}, texts(h.Recent(10)))

	h.Reset()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Recent(4))
}

func TestRecentTurnsReturnsCopies(t *testing.T) {
	s, err := Open(context.Background(), nil, Options{HistorySize: 2})
	require.NoError(t, err)

	tr := turn("open notepad")
	tr.Params = core.Params{"app": "notepad"}
	s.AppendTurn(tr)

	got := s.RecentTurns(1)
	got[0].Params["app"] = "mutated"

	assert.Equal(t, "notepad", s.RecentTurns(1)[0].Params["app"])
}

func TestFactRoundTripOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, nil, Options{})
	require.NoError(t, err)

	require.NoError(t, s.SetFact(ctx, "Name", "Ada"))
	v, ok := s.GetFact("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)

	require.NoError(t, s.SetFact(ctx, "name", "Grace"))
	v, _ = s.GetFact("name")
	assert.Equal(t, "Grace", v)
	assert.Len(t, s.AllFacts(), 1)

	_, ok = s.GetFact("missing")
	assert.False(t, ok)
	assert.Error(t, s.SetFact(ctx, "  ", "x"))
}

func TestSnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, nil, Options{HistorySize: 5})
	require.NoError(t, err)
	require.NoError(t, s.SetFact(ctx, "color", "blue"))
	s.AppendTurn(turn("hello"))

	view := s.Snapshot(5)
	view.Facts["color"] = "red"
	s.AppendTurn(turn("again"))

	v, _ := s.GetFact("color")
	assert.Equal(t, "blue", v)
	assert.Len(t, view.Turns, 1)
	assert.Equal(t, []string{"color"}, view.FactKeys())
}

func TestJSONFilePersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.json")

	s, err := Open(ctx, NewJSONFile(path), Options{FlushOnWrite: true})
	require.NoError(t, err)
	require.NoError(t, s.SetFact(ctx, "name", "Ada"))
	s.AppendTurn(turn("hello"))
	require.NoError(t, s.Close(ctx))

	s2, err := Open(ctx, NewJSONFile(path), Options{})
	require.NoError(t, err)
	v, ok := s2.GetFact("name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Zero(t, len(s2.RecentTurns(0)), "history is per session")
}

func TestDeferredFlushWritesOnClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.json")

	s, err := Open(ctx, NewJSONFile(path), Options{FlushOnWrite: false})
	require.NoError(t, err)
	require.NoError(t, s.SetFact(ctx, "city", "Paris"))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Flush(ctx))
	_, err = os.Stat(path)
	require.NoError(t, err, "flushed before close")
	require.NoError(t, os.Remove(path))
	require.NoError(t, s.Flush(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean store does not rewrite")

	require.NoError(t, s.SetFact(ctx, "city", "Lisbon"))
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.SetFact(ctx, "city", "Rome"), ErrClosed)

	facts, err := NewJSONFile(path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Lisbon"}, facts)
}

func TestCorruptJSONFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(context.Background(), NewJSONFile(path), Options{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)

	s, err := Open(ctx, db, Options{FlushOnWrite: true})
	require.NoError(t, err)
	require.NoError(t, s.SetFact(ctx, "name", "Ada"))
	require.NoError(t, s.SetFact(ctx, "name", "Grace"))
	require.NoError(t, s.SetFact(ctx, "pet", "cat"))
	require.NoError(t, s.Close(ctx))

	db2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db2.Close()

	facts, err := db2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Grace", "pet": "cat"}, facts)
}

func TestTranscriptAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conversation.jsonl")
	tr, err := OpenTranscript(path)
	require.NoError(t, err)

	require.NoError(t, tr.Record(turn("one")))
	require.NoError(t, tr.Record(turn("two")))
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"text":"one"`)
	assert.Contains(t, string(data), `"text":"two"`)
}
