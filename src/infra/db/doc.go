// Package db owns the lifecycle of the PostgreSQL connection pool and the
// per-request sessions checked out from it.
//
// This package is responsible for:
//   - Provider-aware pool configuration (Neon, pooler proxies, plain Postgres)
//   - SSL parameter normalization so encryption survives driver quirks
//   - Startup warmup with cancellable backoff against cold-starting databases
//   - Session checkout with bounded waits, pre-ping and guaranteed release
//   - A typed error taxonomy with credential redaction on every log path
//
// Example usage:
//
//	engine, err := db.Configure(ctx, cfg.Database, cfg.Env, log)
//	if err != nil {
//	    return err // fatal: broken database target
//	}
//	defer engine.Dispose()
//
//	if !engine.Warmup(ctx, cfg.Database.WarmupAttempts, cfg.Database.WarmupBackoff) {
//	    log.Warn("starting degraded; database unreachable")
//	}
//
//	err = engine.WithTx(ctx, func(s *db.Session) error {
//	    _, err := s.Exec(ctx, "UPDATE jobs SET views = views + 1 WHERE id = $1", id)
//	    return err
//	})
package db
