package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Upstream("scoring API call failed", cause)

	assert.Equal(t, "scoring API call failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NotFound("url not found")
	assert.Equal(t, "url not found", bare.Error())
	assert.NoError(t, bare.Unwrap())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("gone")))
	assert.Equal(t, ErrCodeValidation, CodeOf(Validationf("bad %s", "tier")))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))

	wrapped := Wrap(Conflict("duplicate"), errors.New("inner"))
	assert.Equal(t, ErrCodeConflict, CodeOf(wrapped))
	assert.ErrorContains(t, wrapped, "inner")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Upstream("503 from vendor", nil)))
	assert.True(t, IsRetryable(&AppError{Code: ErrCodeTimeout, Message: "deadline"}))
	assert.False(t, IsRetryable(Validation("missing api key")))
	assert.False(t, IsRetryable(NotFound("url missing")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "hash"},
			wantCode: ErrCodeConflict,
		},
		{
			name:     "foreign key violation",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			wantCode: ErrCodeForeignKey,
		},
		{
			name:     "not null violation",
			err:      &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "other pg error",
			err:      &pgconn.PgError{Code: pgerrcode.DiskFull},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapDBError(tt.err)
			require.Error(t, mapped)
			assert.Equal(t, tt.wantCode, CodeOf(mapped))
		})
	}

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, MapDBError(nil))
	})

	t.Run("plain error passes through", func(t *testing.T) {
		plain := errors.New("unrelated")
		assert.Equal(t, plain, MapDBError(plain))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.True(t, IsUniqueViolation(Conflict("dup")))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}
