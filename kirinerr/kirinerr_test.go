package kirinerr

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, KindInvalidArguments.HTTPStatus())
	assert.Equal(t, 400, KindDecodeError.HTTPStatus())
	assert.Equal(t, 404, KindObjectNotFound.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause, "saving trip update")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "saving trip update")
	assert.Contains(t, err.Error(), "boom")
}

func TestIsRetryableOnNetError(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("not a network error")))
	assert.False(t, IsRetryable(nil))
}
