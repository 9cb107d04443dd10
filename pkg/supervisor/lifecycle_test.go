package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_DoublesThenClampsAtCap(t *testing.T) {
	initial := time.Second
	mult := 2.0
	cap := 10 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // 16s clamped to the 10s cap
	}
	for attempt, exp := range want {
		assert.Equal(t, exp, backoffDelay(initial, mult, attempt, cap))
	}
}

func TestBackoffDelay_ZeroMultiplierTreatedAsOne(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(time.Second, 0, 3, 0))
}

func TestParseSignal_DefaultsToSIGTERM(t *testing.T) {
	assert.Equal(t, "terminated", parseSignal("").String())
	assert.Equal(t, "terminated", parseSignal("bogus").String())
	assert.Equal(t, "killed", parseSignal("SIGKILL").String())
}
