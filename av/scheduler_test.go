package av

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingScheduler() (*tickerScheduler, *manualClock, chan any) {
	clock := &manualClock{}
	posted := make(chan any, 16)
	s := newTickerScheduler(clock, func(ev any) { posted <- ev })
	return s, clock, posted
}

func receiveTick(t *testing.T, posted <-chan any) tickEvent {
	t.Helper()
	select {
	case ev := <-posted:
		tick, ok := ev.(tickEvent)
		require.True(t, ok, "unexpected event %T", ev)
		return tick
	case <-time.After(time.Second):
		t.Fatal("no tick posted")
		return tickEvent{}
	}
}

func TestTickerScheduler_ArmPostsTicks(t *testing.T) {
	s, clock, posted := newCapturingScheduler()

	require.NoError(t, s.Arm(20*time.Millisecond))
	defer s.Disarm()
	assert.True(t, s.Armed())

	require.True(t, clock.fire())
	tick := receiveTick(t, posted)
	assert.True(t, s.current(tick.gen))

	require.True(t, clock.fire())
	assert.Equal(t, tick.gen, receiveTick(t, posted).gen)
}

func TestTickerScheduler_ArmTwice(t *testing.T) {
	s, _, _ := newCapturingScheduler()

	require.NoError(t, s.Arm(20*time.Millisecond))
	defer s.Disarm()
	assert.ErrorIs(t, s.Arm(20*time.Millisecond), ErrSchedulerArmed)
}

func TestTickerScheduler_InvalidPeriod(t *testing.T) {
	s, _, _ := newCapturingScheduler()
	assert.Error(t, s.Arm(0))
	assert.False(t, s.Armed())
}

func TestTickerScheduler_DisarmMakesTicksStale(t *testing.T) {
	s, clock, posted := newCapturingScheduler()

	require.NoError(t, s.Arm(20*time.Millisecond))
	require.True(t, clock.fire())
	old := receiveTick(t, posted)

	s.Disarm()
	assert.False(t, s.Armed())
	assert.False(t, s.current(old.gen))
	assert.False(t, clock.fire(), "stopped ticker must not receive ticks")

	require.NoError(t, s.Arm(20*time.Millisecond))
	defer s.Disarm()
	require.True(t, clock.fire())
	fresh := receiveTick(t, posted)

	assert.NotEqual(t, old.gen, fresh.gen)
	assert.True(t, s.current(fresh.gen))
	assert.False(t, s.current(old.gen))
}

func TestTickerScheduler_DisarmIdle(t *testing.T) {
	s, _, _ := newCapturingScheduler()
	assert.NotPanics(t, s.Disarm)
	assert.False(t, s.current(0))
}
