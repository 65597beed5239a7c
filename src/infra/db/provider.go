package db

import (
	"strings"
	"time"

	"hiremebahamas/src/infra/config"
)

// Provider identifies the class of managed Postgres endpoint behind a
// connection URL. The class is detected once at Configure time; nothing
// else in the package matches on host strings.
type Provider int

const (
	// ProviderDefault is a plain Postgres endpoint (Render, Railway,
	// self-hosted). Connections behave like direct server connections.
	ProviderDefault Provider = iota

	// ProviderPooledProxy is an endpoint fronted by a transaction-pooling
	// proxy (PgBouncer, Neon's pooler). Such proxies reject certain
	// startup parameters and break prepared-statement caching, so the
	// profile forces the simple wire protocol and disables caches.
	ProviderPooledProxy

	// ProviderServerless is a scale-to-zero endpoint (Neon). The database
	// may need seconds to resume after idling, and idle connections are
	// reaped aggressively on the server side.
	ProviderServerless
)

// String returns the provider name for logging.
func (p Provider) String() string {
	switch p {
	case ProviderPooledProxy:
		return "pooled-proxy"
	case ProviderServerless:
		return "serverless"
	default:
		return "default"
	}
}

// detectProvider classifies a database host. Pooler endpoints are checked
// first: a Neon pooler host matches both patterns and the proxy quirks are
// the ones that matter for correctness.
func detectProvider(host string) Provider {
	h := strings.ToLower(host)

	if strings.Contains(h, "-pooler.") || strings.Contains(h, "pgbouncer") {
		return ProviderPooledProxy
	}
	if strings.HasSuffix(h, ".neon.tech") {
		return ProviderServerless
	}
	return ProviderDefault
}

// profile is the full set of engine-level connection policies. It is fixed
// at Configure time; changing any of it means building a new engine.
type profile struct {
	// poolSize is the base number of pooled connections.
	poolSize int32

	// poolOverflow is the extra transient allowance beyond poolSize.
	// Overflow connections are shed quickly via connMaxIdleTime.
	poolOverflow int32

	// connMaxLifetime recycles connections before server-side limits hit.
	connMaxLifetime time.Duration

	// connMaxIdleTime discards idle connections; kept short so overflow
	// connections do not linger against the provider's connection budget.
	connMaxIdleTime time.Duration

	// connectTimeout bounds a single connection attempt. Always well under
	// 30s: an unreachable host must fail fast, not hang a request.
	connectTimeout time.Duration

	// acquireTimeout bounds the wait for a free pooled connection before
	// the acquire fails as pool exhaustion.
	acquireTimeout time.Duration

	// prePing tests a pooled connection's liveness before handing it out.
	prePing bool

	// statementTimeout is applied with a session-level SET after checkout.
	// Connection-string timeouts are startup parameters, which pooling
	// proxies may reject, so the session-level form is used everywhere.
	statementTimeout time.Duration

	// simpleProtocol disables the extended protocol and statement caches.
	simpleProtocol bool
}

// profileFor builds the connection policy for a provider class and
// deployment tier. Pool sizes stay conservative: the managed database's
// connection budget is shared across every backend instance.
func profileFor(p Provider, env config.Environment) profile {
	prof := profile{
		poolSize:         10,
		poolOverflow:     10,
		connMaxLifetime:  30 * time.Minute,
		connMaxIdleTime:  5 * time.Minute,
		connectTimeout:   10 * time.Second,
		acquireTimeout:   5 * time.Second,
		prePing:          true,
		statementTimeout: 30 * time.Second,
	}

	switch p {
	case ProviderPooledProxy:
		// The proxy holds the real server pool; client-side pre-ping only
		// measures the proxy and wastes a round trip.
		prof.prePing = false
		prof.simpleProtocol = true
	case ProviderServerless:
		prof.poolSize = 3
		prof.poolOverflow = 5
		prof.connMaxIdleTime = 2 * time.Minute
		// First connection after an idle period waits out the resume
		prof.connectTimeout = 20 * time.Second
	}

	if !env.IsProduction() {
		prof.poolSize = min(prof.poolSize, 5)
		prof.poolOverflow = min(prof.poolOverflow, 5)
	}

	return prof
}
