package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeCatalog, CategoryCatalog},
		{ErrCodeInvalidArgument, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		err := New(tt.code, "boom", nil)
		assert.Equal(t, tt.category, err.Category, tt.code)
	}

	assert.Equal(t, SeverityFatal, New(ErrCodeFileCorrupt, "x", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeShuttingDown, "x", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeCatalog, "x", nil).Severity)
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	err := New(ErrCodeTableNotFound, "table missing", nil)
	assert.Equal(t, "[ERR_302_TABLE_NOT_FOUND] table missing", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")

	err := Wrap(ErrCodeSerializeFailed, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	err := TableNotFound("vectors")
	target := New(ErrCodeTableNotFound, "", nil)

	assert.True(t, stderrors.Is(err, target))
	assert.False(t, stderrors.Is(err, New(ErrCodeCatalog, "", nil)))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(TableNotFound("x")))
	assert.True(t, IsNotFound(New(ErrCodeFileNotFound, "gone", nil)))
	assert.False(t, IsNotFound(New(ErrCodeCatalog, "x", nil)))
	assert.False(t, IsNotFound(fmt.Errorf("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestIsShuttingDown(t *testing.T) {
	assert.True(t, IsShuttingDown(ShuttingDown()))
	assert.False(t, IsShuttingDown(New(ErrCodeInternal, "x", nil)))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeFileCorrupt, "x", nil)))
	assert.False(t, IsFatal(New(ErrCodeCatalog, "x", nil)))
	assert.False(t, IsFatal(fmt.Errorf("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeInvalidArgument, "bad dim", nil).
		WithDetail("table_id", "vectors").
		WithDetail("dim", "4")

	assert.Equal(t, "vectors", err.Details["table_id"])
	assert.Equal(t, "4", err.Details["dim"])
}
