package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
)

func TestNewBatchError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	be := exception.NewBatchError("db", "failed to connect", originalErr)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, originalErr, be.Unwrap())
	assert.False(t, be.IsFatal())
	assert.Equal(t, "[db] failed to connect: db connection refused", be.Error())
}

func TestNewBatchErrorf(t *testing.T) {
	be1 := exception.NewBatchErrorf("runner", "stage %s failed for %d entities", "IMAGE", 2)
	assert.Nil(t, be1.Unwrap())
	assert.Equal(t, "[runner] stage IMAGE failed for 2 entities", be1.Error())

	cause := errors.New("disk full")
	be2 := exception.NewBatchErrorf("store", "cannot write %s", "COLLECT", cause)
	assert.Equal(t, cause, be2.Unwrap())
	assert.Equal(t, "cannot write COLLECT", be2.Message)
}

func TestIsFatal(t *testing.T) {
	fatal := exception.NewFatalError("registry", "batch creation failed", errors.New("locked"))
	assert.True(t, fatal.IsFatal())
	assert.True(t, exception.IsFatal(fatal))

	wrapped := fmt.Errorf("run aborted: %w", fatal)
	assert.True(t, exception.IsFatal(wrapped))

	nested := exception.NewBatchError("usecase", "run failed", fatal)
	assert.True(t, exception.IsFatal(nested))

	assert.False(t, exception.IsFatal(exception.NewBatchError("runner", "stage failed", nil)))
	assert.False(t, exception.IsFatal(errors.New("plain")))
	assert.False(t, exception.IsFatal(nil))
}

func TestSentinelRegistry(t *testing.T) {
	assert.True(t, exception.IsErrorTypeRegistered("IllegalTransition"))
	assert.False(t, exception.IsErrorTypeRegistered("NoSuchError"))

	err := exception.NewBatchError("store", "DONE is final", exception.ErrIllegalTransition)
	assert.True(t, exception.IsErrorOfType(err, "IllegalTransition"))
	assert.False(t, exception.IsErrorOfType(err, "BatchNotFound"))
	assert.True(t, errors.Is(err, exception.ErrIllegalTransition))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", exception.Truncate("abc", 5))
	assert.Equal(t, "abcde", exception.Truncate("abcdefgh", 5))
	assert.Equal(t, "日本語", exception.Truncate("日本語テキスト", 3))
	assert.Equal(t, "trimmed", exception.Truncate("  trimmed \n", 0))
}
