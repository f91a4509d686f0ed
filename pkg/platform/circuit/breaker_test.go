package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", WithFailureThreshold(threshold), WithCooldown(cooldown))
	b.now = clock.Now
	return b, clock
}

func TestBreaker_InitialState(t *testing.T) {
	b := New("kafka")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "kafka", b.Name())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure(), "third failure opens")
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())

	assert.False(t, b.RecordFailure(), "already open is not a transition")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.RecordSuccess(), "closed stays closed")

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	assert.False(t, b.Allow())

	clock.Advance(time.Minute)
	assert.True(t, b.Allow(), "cooldown elapsed admits a probe")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe at a time")

	t.Run("failed probe reopens", func(t *testing.T) {
		assert.True(t, b.RecordFailure())
		assert.True(t, b.IsOpen())
		assert.False(t, b.Allow())
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.Advance(time.Minute)
		assert.True(t, b.Allow())
		assert.True(t, b.RecordSuccess())
		assert.Equal(t, StateClosed, b.State())
		assert.True(t, b.Allow())
	})
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}
