package db

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStatusForFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"pool exhaustion is backpressure", newPoolExhaustedError(time.Second), StatusDegraded},
		{"timeout is transient", context.DeadlineExceeded, StatusDegraded},
		{"cold start resume is transient", newColdStartError(3, context.DeadlineExceeded), StatusDegraded},
		{"unreachable host is an outage", newConnectionLostError(syscall.ECONNREFUSED), StatusUnavailable},
		{"bad credentials are an outage", newConnectionLostError(&pgconn.PgError{Code: "28P01"}), StatusUnavailable},
		{"disposed engine is an outage", ErrEngineDisposed, StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForFailure(tt.err))
		})
	}
}
