package postgres

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dispatch/internal/repository"
)

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestExpectOneRow(t *testing.T) {
	assert.NoError(t, expectOneRow(fakeResult{rows: 1}))
	assert.ErrorIs(t, expectOneRow(fakeResult{rows: 0}), repository.ErrVersionConflict)

	boom := errors.New("driver does not report rows")
	assert.ErrorIs(t, expectOneRow(fakeResult{err: boom}), boom)
}

func TestNullHelpers(t *testing.T) {
	assert.Equal(t, sql.NullString{}, nullString(""))
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullString("x"))

	assert.Nil(t, nullTimePtr(sql.NullTime{}))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got := nullTimePtr(sql.NullTime{Time: now, Valid: true})
	if assert.NotNil(t, got) {
		assert.True(t, now.Equal(*got))
	}

	assert.False(t, nullTime(nil).Valid)
	assert.Equal(t, sql.NullTime{Time: now, Valid: true}, nullTime(&now))
}
