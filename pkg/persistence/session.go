package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/internal/metrics"
	"github.com/systmms/credstore/pkg/credential"
)

// ErrSessionBusy is returned when a Session is entered by a second caller
// while another call is still running. Sessions are single-caller; use one
// per worker.
var ErrSessionBusy = errors.New("session is in use by another caller")

// Opener opens a database handle without connecting. sql.Open satisfies it.
type Opener func(driverName, dataSourceName string) (*sql.DB, error)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records store and connect metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Session) { s.metrics = r }
}

// WithTable overrides DefaultTable.
func WithTable(table string) Option {
	return func(s *Session) { s.table = table }
}

// WithOpener replaces sql.Open, mainly for tests.
func WithOpener(open Opener) Option {
	return func(s *Session) { s.opener = open }
}

// Session is one lazily connected handle to a backing store. It exclusively
// owns its client: at most one *sql.DB, limited to a single connection.
type Session struct {
	backend Backend
	table   string
	opener  Opener
	logger  *logging.Logger
	metrics *metrics.Recorder

	busy atomic.Bool
	db   *sql.DB
}

// NewSession creates an unconnected session for backend.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		table:   DefaultTable,
		opener:  sql.Open,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the session's backend.
func (s *Session) Backend() Backend {
	return s.backend
}

// Table returns the relation records are written to.
func (s *Session) Table() string {
	return s.table
}

// Connected reports whether the session holds a client. Like every other
// method it must not race with calls on the same session.
func (s *Session) Connected() bool {
	return s.db != nil
}

func (s *Session) enter(op string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, ErrSessionBusy)
	}
	return nil
}

func (s *Session) leave() {
	s.busy.Store(false)
}

// Open connects to the backing store, resolving the URI first when needed.
// It always reconnects: a previously held client is closed and replaced.
func (s *Session) Open(ctx context.Context) error {
	if err := s.enter("open"); err != nil {
		return err
	}
	defer s.leave()
	return s.open(ctx)
}

func (s *Session) open(ctx context.Context) error {
	db, err := s.dial(ctx)
	if err != nil {
		return err
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.logger.Warn("closing previous %s client: %v", s.backend.Name(), cerr)
		}
	}
	s.db = db
	return nil
}

// target is everything needed to connect, captured from the backend so a
// connect can run without touching the backend again.
type target struct {
	name     string
	driver   string
	dsn      string
	redacted string
	secrets  []string
}

// scrub removes the data source and any password from a driver error. Some
// drivers quote the full URI when they fail to parse it.
func (t target) scrub(err error) error {
	orig := err.Error()
	msg := orig
	if t.dsn != "" && t.dsn != t.redacted {
		msg = strings.ReplaceAll(msg, t.dsn, t.redacted)
	}
	msg = logging.Redact(msg, t.secrets)
	if msg == orig {
		return err
	}
	return errors.New(msg)
}

// target resolves the backend's data source.
func (s *Session) target() (target, error) {
	if s.table == "" {
		return target{}, dserrors.New(dserrors.KindInvalidConfig, "open", "table name is empty")
	}

	dsn, err := s.backend.DataSource()
	if err != nil {
		return target{}, err
	}
	return target{
		name:     s.backend.Name(),
		driver:   s.backend.DriverName(),
		dsn:      dsn,
		redacted: s.backend.Redacted(),
		secrets:  s.backend.secrets(),
	}, nil
}

// dial performs one connect round trip without touching session state.
func (s *Session) dial(ctx context.Context) (*sql.DB, error) {
	t, err := s.target()
	if err != nil {
		return nil, err
	}
	return s.connect(ctx, t)
}

func (s *Session) connect(ctx context.Context, t target) (*sql.DB, error) {
	s.logger.Debug("Connecting to %s backend at %s", t.name, t.redacted)

	db, err := s.opener(t.driver, t.dsn)
	if err != nil {
		err = t.scrub(err)
		s.metrics.RecordConnect(t.name, err)
		return nil, dserrors.Wrap(dserrors.KindConnectionFailed, "open", "open "+t.name+" client", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		err = t.scrub(err)
		s.metrics.RecordConnect(t.name, err)
		return nil, dserrors.Wrap(dserrors.KindConnectionFailed, "open", "connect to "+t.name+" backend", err)
	}

	s.metrics.RecordConnect(t.name, nil)
	s.logger.Debug("Connected to %s backend", t.name)
	return db, nil
}

// StoreValue appends r to the backing store. Records with an empty key id or
// value are rejected with a validation error before any I/O. Otherwise the
// session is opened if needed, the table is created if absent and the
// serialized record is inserted, all in one transaction.
func (s *Session) StoreValue(ctx context.Context, r *credential.Record) error {
	if err := s.enter("store"); err != nil {
		return err
	}
	defer s.leave()

	start := time.Now()
	name := s.backend.Name()

	if err := r.Validate(); err != nil {
		s.metrics.RecordStore(name, metrics.StatusInvalid, 0)
		return err
	}

	if err := s.storeValue(ctx, r); err != nil {
		s.metrics.RecordStore(name, metrics.StatusFailure, time.Since(start))
		return err
	}

	s.metrics.RecordStore(name, metrics.StatusSuccess, time.Since(start))
	s.logger.Debug("Stored credential key_id=%s value=%s in %s", r.Metadata.KeyID, logging.Secret(r.Value), s.table)
	return nil
}

func (s *Session) storeValue(ctx context.Context, r *credential.Record) error {
	if s.db == nil {
		if err := s.open(ctx); err != nil {
			return err
		}
	}

	data, err := credential.Encode(r)
	if err != nil {
		return err
	}
	if err := credential.ValidateJSON(data); err != nil {
		return err
	}

	stmts := s.backend.dialect().forTable(s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return execError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmts.createTable); err != nil {
		return execError("create table "+s.table, err)
	}
	if _, err := tx.ExecContext(ctx, stmts.insert, string(data)); err != nil {
		return execError("insert credential", err)
	}
	if err := tx.Commit(); err != nil {
		return execError("commit transaction", err)
	}
	return nil
}

// Load returns every stored record whose metadata.key_id equals keyID.
// Records are never updated in place, so each StoreValue call for the key
// yields one entry.
func (s *Session) Load(ctx context.Context, keyID string) ([]*credential.Record, error) {
	if err := s.enter("load"); err != nil {
		return nil, err
	}
	defer s.leave()

	if keyID == "" {
		return nil, dserrors.New(dserrors.KindValidation, "load", "key_id is empty")
	}

	if s.db == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	stmts := s.backend.dialect().forTable(s.table)
	rows, err := s.db.QueryContext(ctx, stmts.selectByKey, keyID)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, execError("select credentials", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*credential.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, execError("scan credential", err)
		}
		r, err := credential.Decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, execError("iterate credentials", err)
	}
	return records, nil
}

// Close releases the client. The session can be opened again afterwards.
func (s *Session) Close() error {
	if err := s.enter("close"); err != nil {
		return err
	}
	defer s.leave()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return dserrors.Wrap(dserrors.KindIO, "close", "close "+s.backend.Name()+" client", err)
	}
	return nil
}

func execError(step string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		step = fmt.Sprintf("%s (SQLSTATE %s)", step, pqErr.Code)
	}
	return dserrors.Wrap(dserrors.KindExecutionFailed, "store", step, err)
}

// isUndefinedTable reports whether err means nothing has been stored yet.
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return strings.Contains(err.Error(), "no such table")
}
