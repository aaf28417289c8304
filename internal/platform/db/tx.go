package db

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const txKey contextKey = "db_tx"

// Querier is implemented by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txState struct {
	tx pgx.Tx

	mu         sync.Mutex
	hooks      []func()
	onRollback []func()
}

func (s *txState) addHook(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *txState) addRollbackHook(fn func()) {
	s.mu.Lock()
	s.onRollback = append(s.onRollback, fn)
	s.mu.Unlock()
}

// runHooks runs the commit hooks and discards the rollback hooks.
func (s *txState) runHooks() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks, s.onRollback = nil, nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// abort runs the rollback hooks and discards the commit hooks. A failed
// commit counts as a rollback.
func (s *txState) abort() {
	s.mu.Lock()
	hooks := s.onRollback
	s.hooks, s.onRollback = nil, nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func withTx(ctx context.Context, st *txState) context.Context {
	return context.WithValue(ctx, txKey, st)
}

func stateFromContext(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey).(*txState)
	return st
}

// ConnFromContext returns the request transaction, or nil when the context
// carries none.
func ConnFromContext(ctx context.Context) Querier {
	if st := stateFromContext(ctx); st != nil {
		return st.tx
	}
	return nil
}

// AfterCommit registers fn to run once the ambient transaction commits. It is
// dropped on rollback. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if st := stateFromContext(ctx); st != nil {
		st.addHook(fn)
		return
	}
	fn()
}

// AfterRollback registers fn to run if the ambient transaction rolls back or
// fails to commit. Without a transaction it is a no-op.
func AfterRollback(ctx context.Context, fn func()) {
	if st := stateFromContext(ctx); st != nil {
		st.addRollbackHook(fn)
	}
}

// Transactor runs units of work inside one transaction.
type Transactor struct {
	db Beginner
}

func NewTransactor(db Beginner) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn in the ambient transaction if ctx already carries one,
// otherwise in a new transaction committed when fn returns nil.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	st := &txState{tx: tx}

	if err := fn(withTx(ctx, st)); err != nil {
		_ = tx.Rollback(ctx)
		st.abort()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		st.abort()
		return fmt.Errorf("commit transaction: %w", err)
	}
	st.runHooks()
	return nil
}

// bufferedWriter holds the response until the transaction outcome is known.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *bufferedWriter) Header() http.Header         { return w.header }
func (w *bufferedWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *bufferedWriter) WriteHeader(code int)        { w.status = code }

// TxMiddleware wraps each request in a transaction. The transaction commits
// when the handler returns nil with a status below 400 and rolls back
// otherwise. The response is held back until commit so a failed commit is
// reported as an error instead of a false success.
func TxMiddleware(db Beginner, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			tx, err := db.Begin(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("begin request transaction")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			st := &txState{tx: tx}
			c.SetRequest(req.WithContext(withTx(ctx, st)))

			res := c.Response()
			orig := res.Writer
			buf := &bufferedWriter{header: orig.Header(), status: http.StatusOK}
			res.Writer = buf
			defer func() {
				if p := recover(); p != nil {
					res.Writer = orig
					_ = tx.Rollback(context.Background())
					st.abort()
					panic(p)
				}
			}()

			handlerErr := next(c)
			res.Writer = orig

			if handlerErr != nil || res.Status >= http.StatusBadRequest {
				if rbErr := tx.Rollback(context.Background()); rbErr != nil {
					logger.Warn().Err(rbErr).Msg("rollback request transaction")
				}
				st.abort()
				if handlerErr != nil {
					res.Committed = false
					res.Size = 0
					return handlerErr
				}
				return flush(orig, buf)
			}

			if err := tx.Commit(ctx); err != nil {
				st.abort()
				res.Committed = false
				res.Size = 0
				return fmt.Errorf("commit request transaction: %w", err)
			}
			st.runHooks()
			return flush(orig, buf)
		}
	}
}

func flush(w http.ResponseWriter, buf *bufferedWriter) error {
	w.WriteHeader(buf.status)
	_, err := w.Write(buf.body.Bytes())
	return err
}
