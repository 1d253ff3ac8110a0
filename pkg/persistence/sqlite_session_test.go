package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/pkg/credential"
)

func countRows(t *testing.T, s *Session) int {
	t.Helper()
	var n int
	err := s.db.QueryRowContext(context.Background(),
		fmt.Sprintf(`SELECT count(*) FROM "%s"`, s.Table())).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestSqliteStoreAppendsRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(&SqliteConfig{})
	t.Cleanup(func() { _ = s.Close() })

	r := sampleRecord("123")
	require.NoError(t, s.StoreValue(ctx, r))
	assert.Equal(t, 1, countRows(t, s))

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, DefaultTable).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, name)

	// Same key again appends instead of replacing.
	require.NoError(t, s.StoreValue(ctx, r))
	assert.Equal(t, 2, countRows(t, s))

	var stored string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT credential FROM "credentials" LIMIT 1`).Scan(&stored))
	assert.JSONEq(t, encoded(t, r), stored)
}

func TestSqliteLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(&SqliteConfig{})
	t.Cleanup(func() { _ = s.Close() })

	records, err := s.Load(ctx, "missing")
	require.NoError(t, err, "loading before the first store finds nothing")
	assert.Empty(t, records)

	protection := credential.Aes128Gcm
	first := sampleRecord("db")
	second := &credential.Record{
		Metadata:   credential.Metadata{KeyID: "db", Exportable: true, Extra: []string{"rotated"}},
		Value:      "bmV3",
		Encryption: &protection,
	}
	require.NoError(t, s.StoreValue(ctx, first))
	require.NoError(t, s.StoreValue(ctx, sampleRecord("other")))
	require.NoError(t, s.StoreValue(ctx, second))

	records, err = s.Load(ctx, "db")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0])
	assert.Equal(t, second, records[1])
}

func TestSqliteCustomTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(&SqliteConfig{}, WithTable(`team "ops" creds`))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.StoreValue(ctx, sampleRecord("123")))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM "team ""ops"" creds"`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSqliteFileSurvivesReconnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &SqliteConfig{Path: filepath.Join(t.TempDir(), "creds.db")}

	writer := NewSession(cfg)
	require.NoError(t, writer.StoreValue(ctx, sampleRecord("123")))
	require.NoError(t, writer.Open(ctx), "reconnect replaces the client")
	require.NoError(t, writer.StoreValue(ctx, sampleRecord("123")))
	require.NoError(t, writer.Close())
	assert.False(t, writer.Connected())

	reader := NewSession(&SqliteConfig{Path: cfg.Path, Flags: FlagReadOnly})
	t.Cleanup(func() { _ = reader.Close() })

	records, err := reader.Load(ctx, "123")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	err = reader.StoreValue(ctx, sampleRecord("123"))
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrExecutionFailed)
}

func TestSqliteMissingFileWithoutCreate(t *testing.T) {
	t.Parallel()

	cfg := &SqliteConfig{Path: filepath.Join(t.TempDir(), "absent.db"), Flags: FlagReadWrite}
	s := NewSession(cfg)

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrConnectionFailed)
	assert.False(t, s.Connected())
}

func TestSqliteSessionPerWorker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	const workers = 4
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s := NewSession(&SqliteConfig{Path: path})
			defer func() { _ = s.Close() }()
			for i := 0; i < perWorker; i++ {
				errs <- s.StoreValue(ctx, sampleRecord(fmt.Sprintf("w%d", w)))
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	check := NewSession(&SqliteConfig{Path: path})
	t.Cleanup(func() { _ = check.Close() })
	for w := 0; w < workers; w++ {
		records, err := check.Load(ctx, fmt.Sprintf("w%d", w))
		require.NoError(t, err)
		assert.Len(t, records, perWorker)
	}
}
