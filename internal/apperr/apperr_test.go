package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := Conflict("issue %s already fixed", "abc")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.Equal(t, "conflict: issue abc already fixed", err.Error())

	wrapped := fmt.Errorf("approve: %w", err)
	assert.True(t, Is(wrapped, KindConflict))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestUpstreamUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream(cause, "complete")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, KindUpstream))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindNotFound, nil, "nothing"))
}
