package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestInsertChargeErr(t *testing.T) {
	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "call_charges_call_job_id_key"})
	err := insertChargeErr(dup, "job-1")
	assert.ErrorIs(t, err, ErrChargeExists)
	assert.EqualError(t, err, "billing: charge already recorded: call job job-1")

	other := errors.New("conn reset")
	assert.Same(t, other, insertChargeErr(other, "job-1"))
	assert.NoError(t, insertChargeErr(nil, "job-1"))
}
