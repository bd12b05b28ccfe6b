package transcript

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestMirror(t *testing.T) *SQLMirror {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	m, err := NewSQLMirror(context.Background(), db)
	require.NoError(t, err)
	return m
}

func TestSQLMirror_AppendAndHistory(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.Append(ctx, Entry{Timestamp: base, Identity: "+1 555", Role: RoleUser, Text: "hello"}))
	require.NoError(t, m.Append(ctx, Entry{Timestamp: base.Add(time.Second), Identity: "1555", Role: RoleAssistant, Text: "hi"}))
	require.NoError(t, m.Append(ctx, Entry{Timestamp: base, Identity: "999", Role: RoleUser, Text: "other"}))

	got, err := m.History(ctx, "1555")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "hello", got[0].Text)
	require.Equal(t, RoleUser, got[0].Role)
	require.Equal(t, "1555", got[0].Identity)
	require.True(t, got[0].Timestamp.Equal(base))
	require.Equal(t, "hi", got[1].Text)
	require.Equal(t, RoleAssistant, got[1].Role)
}

func TestOpenSQLMirror_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	m, err := OpenSQLMirror(context.Background(), "sqlite", path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(context.Background(), Entry{Identity: "1", Role: RoleUser, Text: "x"}))
	got, err := m.History(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestOpenSQLMirror_UnknownDriver(t *testing.T) {
	_, err := OpenSQLMirror(context.Background(), "nope", "")
	require.Error(t, err)
}

type recordingAppender struct {
	entries []Entry
	err     error
}

func (r *recordingAppender) Append(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestTee_FansOutWithSameTimestamp(t *testing.T) {
	primary := &recordingAppender{}
	failing := &recordingAppender{err: errors.New("mirror down")}
	healthy := &recordingAppender{}

	tee := NewTee(primary, failing, healthy)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tee.now = func() time.Time { return fixed }

	err := tee.Append(context.Background(), Entry{Identity: "1", Role: RoleUser, Text: "x"})
	require.ErrorContains(t, err, "mirror down")

	for _, a := range []*recordingAppender{primary, failing, healthy} {
		require.Len(t, a.entries, 1)
		require.Equal(t, fixed, a.entries[0].Timestamp)
	}
}
