package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeUpstreamFailure, cause, "fetch subnet", WithMetadata("subnet_id", "42"))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeUpstreamFailure, CodeOf(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, KindDegraded, KindOf(err))
	assert.Equal(t, map[string]string{"subnet_id": "42"}, err.Metadata())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsComparesCodes(t *testing.T) {
	a := New(CodeConflict, "one")
	b := New(CodeConflict, "two")
	c := New(CodeNotFound, "three")

	assert.True(t, stdErrors.Is(a, b))
	assert.False(t, stdErrors.Is(a, c))
}

func TestRegisterAndDefaults(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Kind: KindRejected, Notify: true})

	err := New(code, "")
	assert.Equal(t, "registered", err.Message())
	assert.Equal(t, SeverityWarning, SeverityOf(err))
	assert.True(t, ShouldNotify(err))

	unknown := New("NEVER_REGISTERED", "")
	assert.Equal(t, AttributesOf(CodeUnknown).Message, unknown.Message())
	assert.False(t, ShouldNotify(stdErrors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(stdErrors.New("plain")))
}
