package utils

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 10}.withDefaults()
	assert.Equal(t, 10, c.MaxOpenConns)
	assert.Equal(t, 10, c.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, c.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, c.PingTimeout)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(dup))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

type fixedResult int64

func (r fixedResult) LastInsertId() (int64, error) { return 0, nil }
func (r fixedResult) RowsAffected() (int64, error) {
	if r < 0 {
		return 0, errors.New("unsupported")
	}
	return int64(r), nil
}

func TestRowsAffected(t *testing.T) {
	var _ sql.Result = fixedResult(0)
	assert.Equal(t, int64(1), RowsAffected(fixedResult(1)))
	assert.Equal(t, int64(0), RowsAffected(fixedResult(-1)))
	assert.Equal(t, int64(0), RowsAffected(nil))
}
