package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/internal/metrics"
	"github.com/systmms/credstore/pkg/credential"
)

const (
	pgCreate = `CREATE TABLE IF NOT EXISTS "credentials" (credential jsonb NOT NULL)`
	pgInsert = `INSERT INTO "credentials" (credential) VALUES ($1::jsonb)`
	pgSelect = `SELECT credential FROM "credentials" WHERE credential->'metadata'->>'key_id' = $1`
)

// stubOpener hands out pre-built handles in order and records each call.
type stubOpener struct {
	mu    sync.Mutex
	dbs   []*sql.DB
	err   error
	calls []string
}

func (o *stubOpener) open(driverName, dsn string) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, driverName+" "+dsn)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.dbs) == 0 {
		return nil, errors.New("no more handles")
	}
	db := o.dbs[0]
	o.dbs = o.dbs[1:]
	return db, nil
}

func (o *stubOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	return db, mock
}

func pgBackend() *ConnectionConfig {
	cfg := &ConnectionConfig{User: strPtr("a"), Server: strPtr("h"), Port: strPtr("5"), Database: strPtr("db")}
	cfg.SetPassword([]byte("b"))
	return cfg
}

func sampleRecord(keyID string) *credential.Record {
	return &credential.Record{
		Metadata: credential.Metadata{KeyID: keyID},
		Value:    "secret",
	}
}

func encoded(t *testing.T, r *credential.Record) string {
	t.Helper()
	data, err := credential.Encode(r)
	require.NoError(t, err)
	return string(data)
}

func TestStoreValuePostgres(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	opener := &stubOpener{dbs: []*sql.DB{db}}
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	s := NewSession(pgBackend(), WithOpener(opener.open), WithMetrics(rec))

	r := sampleRecord("123")
	mock.ExpectPing()
	mock.ExpectBegin()
	mock.ExpectExec(pgCreate).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(pgInsert).WithArgs(encoded(t, r)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.False(t, s.Connected())
	require.NoError(t, s.StoreValue(context.Background(), r))
	assert.True(t, s.Connected())

	assert.Equal(t, []string{"postgres postgresql://a:b@h:5/db"}, opener.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.StoreTotal().WithLabelValues("postgres", metrics.StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.ConnectTotal().WithLabelValues("postgres", metrics.StatusSuccess)))

	mock.ExpectClose()
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreValueReusesConnection(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	opener := &stubOpener{dbs: []*sql.DB{db}}
	s := NewSession(pgBackend(), WithOpener(opener.open))

	mock.ExpectPing()
	for _, key := range []string{"k1", "k2"} {
		mock.ExpectBegin()
		mock.ExpectExec(pgCreate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(pgInsert).WithArgs(encoded(t, sampleRecord(key))).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, s.StoreValue(context.Background(), sampleRecord("k1")))
	require.NoError(t, s.StoreValue(context.Background(), sampleRecord("k2")))

	assert.Equal(t, 1, opener.callCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreValueExecutionFailures(t *testing.T) {
	t.Parallel()

	r := sampleRecord("123")

	tests := []struct {
		name          string
		setupMock     func(mock sqlmock.Sqlmock, payload string)
		errorContains string
	}{
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock, _ string) {
				mock.ExpectBegin().WillReturnError(errors.New("connection lost"))
			},
			errorContains: "begin transaction",
		},
		{
			name: "create table denied",
			setupMock: func(mock sqlmock.Sqlmock, _ string) {
				mock.ExpectBegin()
				mock.ExpectExec(pgCreate).WillReturnError(&pq.Error{Code: "42501", Message: "permission denied for schema public"})
				mock.ExpectRollback()
			},
			errorContains: "create table credentials (SQLSTATE 42501)",
		},
		{
			name: "insert fails",
			setupMock: func(mock sqlmock.Sqlmock, payload string) {
				mock.ExpectBegin()
				mock.ExpectExec(pgCreate).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(pgInsert).WithArgs(payload).WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			errorContains: "insert credential",
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock, payload string) {
				mock.ExpectBegin()
				mock.ExpectExec(pgCreate).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(pgInsert).WithArgs(payload).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
			},
			errorContains: "commit transaction",
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock := newMock(t)
			opener := &stubOpener{dbs: []*sql.DB{db}}
			rec := metrics.NewRecorder(prometheus.NewRegistry())
			s := NewSession(pgBackend(), WithOpener(opener.open), WithMetrics(rec))

			mock.ExpectPing()
			tt.setupMock(mock, encoded(t, r))

			err := s.StoreValue(context.Background(), r)
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrExecutionFailed)
			assert.NotErrorIs(t, err, dserrors.ErrIO)
			assert.Contains(t, err.Error(), tt.errorContains)
			assert.Equal(t, float64(1), testutil.ToFloat64(rec.StoreTotal().WithLabelValues("postgres", metrics.StatusFailure)))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStoreValueConnectionFailures(t *testing.T) {
	t.Parallel()

	t.Run("ping refused", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		opener := &stubOpener{dbs: []*sql.DB{db}}
		rec := metrics.NewRecorder(prometheus.NewRegistry())
		s := NewSession(pgBackend(), WithOpener(opener.open), WithMetrics(rec))

		mock.ExpectPing().WillReturnError(errors.New("dial tcp 127.0.0.1:5: connect: connection refused"))

		err := s.StoreValue(context.Background(), sampleRecord("123"))
		require.Error(t, err)
		assert.ErrorIs(t, err, dserrors.ErrConnectionFailed)
		assert.ErrorIs(t, err, dserrors.ErrIO)
		assert.False(t, s.Connected())

		var typed *dserrors.Error
		require.ErrorAs(t, err, &typed)
		assert.NotEmpty(t, typed.Suggestion)
		assert.NotContains(t, err.Error(), "postgresql://a:b@")

		assert.Equal(t, float64(1), testutil.ToFloat64(rec.ConnectTotal().WithLabelValues("postgres", metrics.StatusFailure)))
		assert.Equal(t, float64(1), testutil.ToFloat64(rec.StoreTotal().WithLabelValues("postgres", metrics.StatusFailure)))
	})

	t.Run("driver open fails", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{err: errors.New("unknown driver")}
		s := NewSession(pgBackend(), WithOpener(opener.open))

		err := s.Open(context.Background())
		assert.ErrorIs(t, err, dserrors.ErrConnectionFailed)
		assert.False(t, s.Connected())
	})

	t.Run("invalid sqlite flags", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{}
		s := NewSession(&SqliteConfig{Path: "x.db", Flags: FlagReadOnly | FlagReadWrite}, WithOpener(opener.open))

		err := s.Open(context.Background())
		assert.ErrorIs(t, err, dserrors.ErrInvalidConfig)
		assert.Zero(t, opener.callCount())
	})

	t.Run("empty table name", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{}
		s := NewSession(pgBackend(), WithOpener(opener.open), WithTable(""))

		err := s.Open(context.Background())
		assert.ErrorIs(t, err, dserrors.ErrInvalidConfig)
		assert.Zero(t, opener.callCount())
	})

	t.Run("read-only in-memory sqlite", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{}
		s := NewSession(&SqliteConfig{Flags: FlagReadOnly}, WithOpener(opener.open))

		err := s.StoreValue(context.Background(), sampleRecord("123"))
		assert.ErrorIs(t, err, dserrors.ErrInvalidConfig)
		assert.Zero(t, opener.callCount())
	})
}

func TestOpenKeepsPasswordOutOfErrors(t *testing.T) {
	t.Parallel()

	// lib/pq quotes the whole URI when it cannot parse it. Nothing listens
	// on port 1, so a URI that does parse fails on dial instead.
	tests := []struct {
		name     string
		password string
	}{
		{name: "invalid escape", password: "s3cr%zzet"},
		{name: "path and query characters", password: "s3cr/et?x"},
		{name: "plain", password: "plainsecret"},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &ConnectionConfig{Server: strPtr("127.0.0.1"), Port: strPtr("1")}
			cfg.SetPassword([]byte(tt.password))

			var logs bytes.Buffer
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s := NewSession(cfg, WithLogger(logging.NewWithWriter(&logs, true, true)))
			err := s.Open(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrConnectionFailed)
			assert.NotContains(t, err.Error(), tt.password)
			assert.NotContains(t, dserrors.SimplifyError(err).Error(), tt.password)
			assert.NotContains(t, logs.String(), tt.password)
		})
	}

	t.Run("opener error quoting the data source", func(t *testing.T) {
		t.Parallel()

		opener := func(_, dsn string) (*sql.DB, error) {
			return nil, fmt.Errorf("cannot open %s", dsn)
		}
		s := NewSession(pgBackend(), WithOpener(opener))

		err := s.Open(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgresql://a:xxxxx@h:5/db")
		assert.NotContains(t, err.Error(), ":b@")
	})
}

func TestStoreValueRejectsInvalidRecordsWithoutIO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record *credential.Record
	}{
		{"nil record", nil},
		{"empty key id", &credential.Record{Value: "secret"}},
		{"empty value", &credential.Record{Metadata: credential.Metadata{KeyID: "123"}}},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opener := &stubOpener{}
			rec := metrics.NewRecorder(prometheus.NewRegistry())
			s := NewSession(pgBackend(), WithOpener(opener.open), WithMetrics(rec))

			err := s.StoreValue(context.Background(), tt.record)
			require.Error(t, err)
			assert.ErrorIs(t, err, dserrors.ErrValidation)
			assert.Zero(t, opener.callCount(), "no connection may be attempted")
			assert.False(t, s.Connected())
			assert.Equal(t, float64(1), testutil.ToFloat64(rec.StoreTotal().WithLabelValues("postgres", metrics.StatusInvalid)))
			assert.Equal(t, 0, testutil.CollectAndCount(rec.StoreDuration()))
		})
	}
}

func TestOpenReconnects(t *testing.T) {
	t.Parallel()

	first, firstMock := newMock(t)
	second, secondMock := newMock(t)
	opener := &stubOpener{dbs: []*sql.DB{first, second}}
	s := NewSession(pgBackend(), WithOpener(opener.open))

	firstMock.ExpectPing()
	firstMock.ExpectClose()
	secondMock.ExpectPing()

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Open(context.Background()))

	assert.Equal(t, 2, opener.callCount())
	assert.NoError(t, firstMock.ExpectationsWereMet())
	assert.NoError(t, secondMock.ExpectationsWereMet())
	assert.Same(t, second, s.db)
}

func TestOpenFailureKeepsPreviousClient(t *testing.T) {
	t.Parallel()

	first, firstMock := newMock(t)
	second, secondMock := newMock(t)
	opener := &stubOpener{dbs: []*sql.DB{first, second}}
	s := NewSession(pgBackend(), WithOpener(opener.open))

	firstMock.ExpectPing()
	secondMock.ExpectPing().WillReturnError(errors.New("connection refused"))

	require.NoError(t, s.Open(context.Background()))
	require.Error(t, s.Open(context.Background()))

	assert.True(t, s.Connected())
	assert.Same(t, first, s.db)
}

func TestSessionRejectsConcurrentUse(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := func(string, string) (*sql.DB, error) {
		close(entered)
		<-release
		return db, nil
	}
	s := NewSession(pgBackend(), WithOpener(blocking))

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background()) }()
	<-entered

	err = s.StoreValue(context.Background(), sampleRecord("123"))
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = s.Load(context.Background(), "123")
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorIs(t, s.Close(), ErrSessionBusy)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("open did not return")
	}

	mock.ExpectClose()
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPostgres(t *testing.T) {
	t.Parallel()

	t.Run("returns every stored row", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		s := NewSession(pgBackend(), WithOpener((&stubOpener{dbs: []*sql.DB{db}}).open))

		first := sampleRecord("k")
		second := sampleRecord("k")
		second.Value = "rotated"

		mock.ExpectPing()
		mock.ExpectQuery(pgSelect).WithArgs("k").WillReturnRows(
			sqlmock.NewRows([]string{"credential"}).
				AddRow([]byte(encoded(t, first))).
				AddRow([]byte(encoded(t, second))),
		)

		records, err := s.Load(context.Background(), "k")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "secret", records[0].Value)
		assert.Equal(t, "rotated", records[1].Value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing table means nothing stored", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		s := NewSession(pgBackend(), WithOpener((&stubOpener{dbs: []*sql.DB{db}}).open))

		mock.ExpectPing()
		mock.ExpectQuery(pgSelect).WithArgs("k").WillReturnError(&pq.Error{Code: "42P01", Message: `relation "credentials" does not exist`})

		records, err := s.Load(context.Background(), "k")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("corrupt row", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		s := NewSession(pgBackend(), WithOpener((&stubOpener{dbs: []*sql.DB{db}}).open))

		mock.ExpectPing()
		mock.ExpectQuery(pgSelect).WithArgs("k").WillReturnRows(
			sqlmock.NewRows([]string{"credential"}).AddRow([]byte(`{"metadata":`)),
		)

		_, err := s.Load(context.Background(), "k")
		assert.ErrorIs(t, err, dserrors.ErrSerializationFailed)
	})

	t.Run("empty key id", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{}
		s := NewSession(pgBackend(), WithOpener(opener.open))

		_, err := s.Load(context.Background(), "")
		assert.ErrorIs(t, err, dserrors.ErrValidation)
		assert.Zero(t, opener.callCount())
	})
}

func TestCloseWithoutClient(t *testing.T) {
	t.Parallel()

	s := NewSession(pgBackend())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, DefaultTable, s.Table())
}

func TestConnectAsync(t *testing.T) {
	t.Parallel()

	t.Run("delivers the client", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		mock.ExpectPing()

		res, ok := <-ConnectAsync(context.Background(), pgBackend(), WithOpener((&stubOpener{dbs: []*sql.DB{db}}).open))
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Same(t, db, res.DB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delivers the error then closes", func(t *testing.T) {
		t.Parallel()

		ch := ConnectAsync(context.Background(), pgBackend(), WithOpener((&stubOpener{err: errors.New("boom")}).open))

		res := <-ch
		assert.Nil(t, res.DB)
		assert.ErrorIs(t, res.Err, dserrors.ErrConnectionFailed)

		_, ok := <-ch
		assert.False(t, ok)
	})

	t.Run("resolves the data source before returning", func(t *testing.T) {
		t.Parallel()

		db, mock := newMock(t)
		mock.ExpectPing()

		cfg := pgBackend()
		ch := ConnectAsync(context.Background(), cfg, WithOpener((&stubOpener{dbs: []*sql.DB{db}}).open))

		assert.Equal(t, "postgresql://a:b@h:5/db", cfg.URI())
		cfg.ErasePassword()

		res := <-ch
		require.NoError(t, res.Err)
		assert.Same(t, db, res.DB)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid backend fails without a goroutine round trip", func(t *testing.T) {
		t.Parallel()

		opener := &stubOpener{}
		ch := ConnectAsync(context.Background(), &SqliteConfig{Flags: FlagReadOnly | FlagReadWrite}, WithOpener(opener.open))

		res, ok := <-ch
		require.True(t, ok)
		assert.ErrorIs(t, res.Err, dserrors.ErrInvalidConfig)
		assert.Zero(t, opener.callCount())

		_, ok = <-ch
		assert.False(t, ok)
	})
}
