package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/gpsforward/internal/location"
)

type collector struct {
	mu   sync.Mutex
	list []location.Sample
}

func (c *collector) handle(s location.Sample) {
	c.mu.Lock()
	c.list = append(c.list, s)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list)
}

func newSim(t *testing.T, conf *Config) (*Simulator, clockwork.FakeClock, context.CancelFunc) {
	clock := clockwork.NewFakeClockAt(time.Date(2017, time.March, 24, 16, 45, 9, 0, time.UTC))
	s := New(conf, clock)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	clock.BlockUntil(1)
	t.Cleanup(cancel)
	return s, clock, cancel
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 111195, Distance(0, 0, 0, 1), 1)
	assert.InDelta(t, 0, Distance(49.2827, -123.1207, 49.2827, -123.1207), 1e-9)
}

func TestFirstSampleAlwaysDelivered(t *testing.T) {
	s, clock, _ := newSim(t, &Config{Interval: 30 * time.Second, MinDistance: 20, StartLatitude: 49.2827, StartLongitude: -123.1207})
	c := &collector{}
	s.Subscribe(c.handle)

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	got := c.list[0]
	c.mu.Unlock()
	assert.Equal(t, int64(1490373939000), got.Time)
	assert.Equal(t, 49.2827, got.Latitude)
	assert.Equal(t, -123.1207, got.Longitude)

	// Step is zero, so the position never moves far enough for another sample.
	clock.Advance(30 * time.Second)
	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestMovingSamples(t *testing.T) {
	s, clock, _ := newSim(t, &Config{Interval: time.Second, MinDistance: 0, Step: 50, Seed: 7})
	c := &collector{}
	s.Subscribe(c.handle)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		want := i + 1
		require.Eventually(t, func() bool { return c.len() == want }, time.Second, 5*time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 1; i < len(c.list); i++ {
		assert.LessOrEqual(t, Distance(c.list[i-1].Latitude, c.list[i-1].Longitude, c.list[i].Latitude, c.list[i].Longitude), 50.0+1e-6)
	}
}

func TestDisabledProviderDeliversNothing(t *testing.T) {
	s, clock, _ := newSim(t, &Config{Interval: time.Second, Step: 50})
	c := &collector{}
	s.Subscribe(c.handle)

	s.SetEnabled(false)
	assert.False(t, s.Enabled())
	select {
	case <-s.StatusChanged():
	default:
		t.Fatal("expected status change notification")
	}

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestUnsubscribe(t *testing.T) {
	s, clock, _ := newSim(t, &Config{Interval: time.Second, Step: 50})
	c := &collector{}
	sub := s.Subscribe(c.handle)
	assert.Equal(t, 1, s.Subscribers())
	sub.Unsubscribe()
	assert.Equal(t, 0, s.Subscribers())

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestSetEnabledSameValueDoesNotNotify(t *testing.T) {
	s := New(&Config{Interval: time.Second}, clockwork.NewFakeClock())
	s.SetEnabled(true)
	select {
	case <-s.StatusChanged():
		t.Fatal("unexpected status change")
	default:
	}
}
