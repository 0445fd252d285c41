package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsConnectivityError(t *testing.T) {
	var tests = []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("relation does not exist"), false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"mysql syntax", &mysql.MySQLError{Number: 1064, Message: "syntax"}, false},
		{"pq connection class", &pq.Error{Code: "08006"}, true},
		{"pq undefined table", &pq.Error{Code: "42P01"}, false},
		{"pgconn connection class", &pgconn.PgError{Code: "08001"}, true},
		{"pgconn permission", &pgconn.PgError{Code: "42501"}, false},
		{"wrapped connection", fmt.Errorf("%w: ping", ErrConnection), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}
