package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionStatusTransitions(t *testing.T) {
	// Forward progress is allowed.
	assert.True(t, StatusPending.CanTransition(StatusInBlock))
	assert.True(t, StatusPending.CanTransition(StatusFinalized))
	assert.True(t, StatusPending.CanTransition(StatusDropped))
	assert.True(t, StatusInBlock.CanTransition(StatusFinalized))
	assert.True(t, StatusInBlock.CanTransition(StatusFailed))
	assert.True(t, StatusPending.CanTransition(StatusPending))

	// Regression is not.
	assert.False(t, StatusInBlock.CanTransition(StatusPending))

	// Terminal states never transition, including to themselves.
	for _, terminal := range []SubmissionStatus{StatusFinalized, StatusFailed, StatusDropped, StatusUnknown} {
		for next := StatusPending; next <= StatusUnknown; next++ {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
}

func TestSubmissionStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInBlock.Terminal())
	assert.True(t, StatusFinalized.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusDropped.Terminal())
	assert.True(t, StatusUnknown.Terminal())
}

func TestScoreRatio(t *testing.T) {
	num, den := Score(0).Ratio()
	assert.Equal(t, uint32(0), num)
	assert.Equal(t, uint32(U16Max), den)

	num, _ = Score(U16Max).Ratio()
	assert.Equal(t, uint32(U16Max), num)
}

func TestScoreString(t *testing.T) {
	assert.Equal(t, "0.00000", Score(0).String())
	assert.Equal(t, "0.50000", Score(32768).String())
	assert.Equal(t, "1.00000", Score(U16Max).String())
}
