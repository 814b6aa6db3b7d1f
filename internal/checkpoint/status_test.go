package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusWaiting, StatusLoading, StatusFinished, StatusLost} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var parsed Status
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, s, parsed)
	}
}

func TestParseStatus_Unknown(t *testing.T) {
	_, err := ParseStatus("paused")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = Status(0).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusWaiting, StatusLoading, true},
		{StatusWaiting, StatusLost, true},
		{StatusWaiting, StatusFinished, false},
		{StatusLoading, StatusFinished, true},
		{StatusLoading, StatusLost, true},
		{StatusLoading, StatusWaiting, false},
		{StatusFinished, StatusLoading, false},
		{StatusLost, StatusWaiting, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.canTransitionTo(tt.to))
		})
	}

	assert.True(t, StatusFinished.IsTerminal())
	assert.True(t, StatusLost.IsTerminal())
	assert.False(t, StatusLoading.IsTerminal())
}
