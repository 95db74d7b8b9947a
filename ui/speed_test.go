package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/learntoreadsa/readaloud/tts"
)

func TestSpeedSteps(t *testing.T) {
	s := newSpeed(0)
	assert.Equal(t, tts.DefaultRate, s.rate)

	assert.Equal(t, 1.0, s.increase())
	assert.Equal(t, 1.25, s.increase())
	assert.Equal(t, 1.0, s.decrease())

	// A rate between steps snaps to the neighbouring step.
	s = newSpeed(0.9)
	assert.Equal(t, 0.85, s.decrease())
	s = newSpeed(0.9)
	assert.Equal(t, 1.0, s.increase())
}

func TestSpeedBounds(t *testing.T) {
	s := newSpeed(5)
	assert.Equal(t, tts.MaxProsody, s.rate)
	assert.True(t, s.atMax())
	assert.Equal(t, 2.0, s.increase())

	s = newSpeed(0.1)
	assert.True(t, s.atMin())
	assert.Equal(t, 0.5, s.decrease())
}

func TestSpeedString(t *testing.T) {
	assert.Equal(t, "0.85x", newSpeed(0.85).String())
	assert.Equal(t, "1x", newSpeed(1).String())
	assert.Equal(t, "1.25x", newSpeed(1.25).String())
}
