package persistence

import (
	"context"
	"database/sql"
)

// ConnectResult is delivered by ConnectAsync.
type ConnectResult struct {
	DB  *sql.DB
	Err error
}

// ConnectAsync connects to backend in the background and delivers exactly
// one result on the returned channel, which is then closed. The channel is
// buffered so the goroutine never blocks on an abandoned receiver. The
// caller owns the returned DB and must close it.
//
// The data source is resolved before ConnectAsync returns, so the caller may
// use backend again right away.
func ConnectAsync(ctx context.Context, backend Backend, opts ...Option) <-chan ConnectResult {
	ch := make(chan ConnectResult, 1)
	s := NewSession(backend, opts...)

	t, err := s.target()
	if err != nil {
		ch <- ConnectResult{Err: err}
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		db, err := s.connect(ctx, t)
		ch <- ConnectResult{DB: db, Err: err}
	}()
	return ch
}
