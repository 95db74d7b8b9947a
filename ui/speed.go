package ui

import (
	"strconv"

	"github.com/learntoreadsa/readaloud/tts"
)

// speedSteps are the speaking rates offered by the +/- keys. The slower
// end is where early readers spend most of their time.
var speedSteps = []float64{0.5, 0.65, 0.75, 0.85, 1.0, 1.25, 1.5, 1.75, 2.0}

// speed tracks the speaking rate. It is only touched from the bubbletea
// update loop so it needs no locking.
type speed struct {
	rate float64
}

func newSpeed(rate float64) speed {
	if rate == 0 {
		rate = tts.DefaultRate
	}
	return speed{rate: tts.ClampProsody(rate)}
}

// increase moves to the next step above the current rate.
func (s *speed) increase() float64 {
	for _, step := range speedSteps {
		if step > s.rate {
			s.rate = step
			return s.rate
		}
	}
	return s.rate
}

// decrease moves to the next step below the current rate.
func (s *speed) decrease() float64 {
	for i := len(speedSteps) - 1; i >= 0; i-- {
		if speedSteps[i] < s.rate {
			s.rate = speedSteps[i]
			return s.rate
		}
	}
	return s.rate
}

func (s speed) atMin() bool { return s.rate <= speedSteps[0] }
func (s speed) atMax() bool { return s.rate >= speedSteps[len(speedSteps)-1] }

func (s speed) String() string {
	return strconv.FormatFloat(s.rate, 'f', -1, 64) + "x"
}
