package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hiremebahamas/src/infra/config"
	"hiremebahamas/src/infra/logger"
)

const (
	prePingTimeout = 2 * time.Second
	pingTimeout    = 3 * time.Second
	releaseTimeout = 5 * time.Second
)

// Engine owns the pooled connection factory for one database endpoint.
// It is created once via Configure during process bootstrap, passed
// explicitly to whatever owns the request lifecycle, and disposed once at
// shutdown. None of its policies can be changed after Configure; replacing
// the engine is the only supported reconfiguration.
type Engine struct {
	pool     *pgxpool.Pool
	cfg      *pgxpool.Config
	provider Provider
	prof     profile
	env      config.Environment
	log      *slog.Logger

	// available reflects the last observed reachability; warmup and ping
	// keep it current so callers can serve a distinguishable
	// "database unavailable" response instead of crash-looping.
	available atomic.Bool
	disposed  atomic.Bool

	mu      sync.Mutex
	lastErr error // last warmup/ping failure, already redacted

	disposeOnce sync.Once
}

// Configure validates the connection URL, normalizes provider-specific
// parameters, and returns an Engine. It never opens a connection: the first
// physical connection happens at Warmup or the first AcquireSession.
//
// SSL handling follows the hosting providers' quirks: any sslmode query
// parameter is stripped from the URL and the requirement is re-expressed as
// an explicit TLS connect option, required in production and preferred (with
// plaintext fallback) otherwise. Encryption is therefore never silently
// dropped by a driver that rejects sslmode as a keyword.
func Configure(ctx context.Context, cfg config.DatabaseConfig, env config.Environment, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = logger.WithComponent(log, "db")

	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, newConfigurationError("database URL is empty", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, newConfigurationError("database URL is not a valid URL", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, newConfigurationError(fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return nil, newConfigurationError("database URL has no host", nil)
	}

	stripped, sslParam := stripSSLMode(u)

	poolCfg, err := pgxpool.ParseConfig(stripped)
	if err != nil {
		return nil, newConfigurationError("failed to parse database URL", err)
	}

	provider := detectProvider(u.Hostname())
	prof := profileFor(provider, env)

	poolCfg.MaxConns = prof.poolSize + prof.poolOverflow
	poolCfg.MinConns = 0 // lazy: nothing connects until warmup or first acquire
	poolCfg.MaxConnLifetime = prof.connMaxLifetime
	poolCfg.MaxConnIdleTime = prof.connMaxIdleTime
	poolCfg.ConnConfig.ConnectTimeout = prof.connectTimeout

	applyTLS(poolCfg.ConnConfig, env)

	if prof.simpleProtocol {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		poolCfg.ConnConfig.StatementCacheCapacity = 0
		poolCfg.ConnConfig.DescriptionCacheCapacity = 0
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, newConfigurationError("failed to build connection pool", err)
	}

	e := &Engine{
		pool:     pool,
		cfg:      poolCfg,
		provider: provider,
		prof:     prof,
		env:      env,
		log:      log,
	}

	log.Info("database engine configured",
		"url", redactURL(raw),
		"provider", provider.String(),
		"environment", string(env),
		"pool_size", prof.poolSize,
		"pool_overflow", prof.poolOverflow,
		"sslmode_stripped", sslParam != "",
	)

	return e, nil
}

// stripSSLMode removes the sslmode query parameter and reports what it was.
// The SSL requirement is applied explicitly in applyTLS.
func stripSSLMode(u *url.URL) (string, string) {
	q := u.Query()
	mode := q.Get("sslmode")
	if mode == "" {
		return u.String(), ""
	}

	q.Del("sslmode")
	stripped := *u
	stripped.RawQuery = q.Encode()
	return stripped.String(), mode
}

// applyTLS sets the effective SSL connect option for the tier. Production
// requires an encrypted channel (sslmode=require semantics: encrypted,
// server certificate not verified, matching the managed providers'
// self-issued proxy certs). Other tiers prefer TLS but fall back to
// plaintext so local development against a bare Postgres keeps working.
func applyTLS(cc *pgx.ConnConfig, env config.Environment) {
	tlsCfg := &tls.Config{
		ServerName:         cc.Host,
		InsecureSkipVerify: true,
	}

	cc.TLSConfig = tlsCfg
	if env.IsProduction() {
		cc.Fallbacks = nil
		return
	}

	cc.Fallbacks = []*pgconn.FallbackConfig{
		{Host: cc.Host, Port: cc.Port, TLSConfig: nil},
	}
}

// Warmup absorbs managed-database cold starts by opening and releasing one
// connection before the first real request, retrying with exponential
// backoff. Failure is non-fatal: the process starts degraded and Ping
// reports the database unavailable instead of the process crash-looping.
func (e *Engine) Warmup(ctx context.Context, attempts int, base time.Duration) bool {
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	var last error
	err := Retry(ctx, attempts, ExponentialBackoff(base, 5*time.Second), func(ctx context.Context) error {
		attempt++
		cctx, cancel := context.WithTimeout(ctx, e.prof.connectTimeout)
		defer cancel()

		if perr := e.pool.Ping(cctx); perr != nil {
			last = perr
			e.log.Warn("database warmup attempt failed",
				"attempt", attempt,
				"of", attempts,
				"class", failureClass(perr),
				"error", redactError(perr),
			)
			return perr
		}
		return nil
	})

	if err != nil {
		// Cancellation before the first attempt leaves no attempt error;
		// classify the retry error itself so the log still carries a class.
		if last == nil {
			last = err
		}
		e.available.Store(false)
		e.setLastErr(newColdStartError(attempts, last))
		e.log.Error("database warmup failed, starting degraded",
			"attempts", attempts,
			"class", failureClass(last),
		)
		return false
	}

	e.available.Store(true)
	e.setLastErr(nil)
	e.log.Info("database warmup complete", "attempts", attempt)
	return true
}

// AcquireSession returns a session bound to one checked-out connection.
// The wait for a free connection is bounded by the profile's acquire
// timeout; on expiry the caller gets a pool-exhausted error to surface as a
// retryable 503-class response, never an unbounded hang. Stale connections
// are pre-pinged, discarded and replaced invisibly to the caller.
func (e *Engine) AcquireSession(ctx context.Context) (*Session, error) {
	if e.disposed.Load() {
		return nil, ErrEngineDisposed
	}

	actx, cancel := context.WithTimeout(ctx, e.prof.acquireTimeout)
	defer cancel()

	conn, err := e.acquireConn(actx, ctx)
	if err != nil {
		return nil, err
	}

	e.available.Store(true)
	return newSession(e, conn), nil
}

// acquireConn checks out a live connection, retrying past stale ones.
// actx carries the bounded acquire deadline; parent distinguishes caller
// cancellation from pool-wait expiry.
func (e *Engine) acquireConn(actx, parent context.Context) (*pgxpool.Conn, error) {
	for {
		conn, err := e.pool.Acquire(actx)
		if err != nil {
			if perr := parent.Err(); perr != nil {
				return nil, perr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, newPoolExhaustedError(e.prof.acquireTimeout)
			}
			return nil, newConnectionLostError(err)
		}

		if e.prof.prePing {
			pctx, pcancel := context.WithTimeout(actx, prePingTimeout)
			perr := conn.Ping(pctx)
			pcancel()
			if perr != nil {
				// Stale connection: close the underlying conn so the pool
				// destroys it on release, then draw a replacement.
				e.log.Debug("discarding stale pooled connection", "class", failureClass(perr))
				_ = conn.Conn().Close(context.Background())
				conn.Release()
				continue
			}
		}

		if e.prof.statementTimeout > 0 {
			// Session-level SET after checkout; see profile.statementTimeout.
			set := fmt.Sprintf("SET statement_timeout = %d", e.prof.statementTimeout.Milliseconds())
			if _, serr := conn.Exec(actx, set); serr != nil {
				_ = conn.Conn().Close(context.Background())
				conn.Release()
				if perr := parent.Err(); perr != nil {
					return nil, perr
				}
				return nil, newConnectionLostError(serr)
			}
		}

		return conn, nil
	}
}

// WithSession runs fn with an acquired session and guarantees release,
// whatever fn does. No transaction is opened; use WithTx for one.
func (e *Engine) WithSession(ctx context.Context, fn func(*Session) error) error {
	s, err := e.AcquireSession(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	return fn(s)
}

// WithTx runs fn inside a transaction: commit if fn returns nil, rollback
// otherwise. The connection is returned to the pool in every case,
// including panics and caller cancellation.
func (e *Engine) WithTx(ctx context.Context, fn func(*Session) error) error {
	s, err := e.AcquireSession(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	if err := s.Begin(ctx); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			e.log.Warn("rollback after error failed", "error", redactError(rbErr))
		}
		return err
	}
	return s.Commit(ctx)
}

// Ping reports database liveness with a trivial query under a short
// timeout. It never raises: health-check consumers get a boolean and the
// process stays responsive even when the database is unreachable.
func (e *Engine) Ping(ctx context.Context) bool {
	return e.ping(ctx) == nil
}

func (e *Engine) ping(ctx context.Context) error {
	if e.disposed.Load() {
		return ErrEngineDisposed
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := e.WithSession(pctx, func(s *Session) error {
		_, qerr := s.Exec(pctx, "SELECT 1")
		return qerr
	})
	if err != nil {
		e.available.Store(false)
		e.setLastErr(err)
		return err
	}

	e.available.Store(true)
	e.setLastErr(nil)
	return nil
}

// Available reports the last observed reachability without touching the
// database. Use Ping or Health for a fresh probe.
func (e *Engine) Available() bool {
	return e.available.Load()
}

// Provider returns the detected provider class.
func (e *Engine) Provider() Provider {
	return e.provider
}

// Stat exposes pool statistics for diagnostics.
func (e *Engine) Stat() *pgxpool.Stat {
	return e.pool.Stat()
}

// Dispose closes all pooled connections. Idempotent; safe to defer at
// startup and call again from a shutdown hook.
func (e *Engine) Dispose() {
	e.disposeOnce.Do(func() {
		e.disposed.Store(true)
		e.available.Store(false)
		e.pool.Close()
		e.log.Info("database engine disposed")
	})
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// LastError returns the most recent warmup or ping failure, already
// redacted, or nil when the last probe succeeded.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}
