package stat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2017, time.March, 24, 16, 45, 0, 0, time.UTC)

func TestCounterSameMinute(t *testing.T) {
	s := NewStat(t0)
	s.RecordSent(10, t0.Add(5*time.Second))
	s.RecordSent(10, t0.Add(30*time.Second))
	s.RecordSent(10, t0.Add(59*time.Second))

	snap := s.Snapshot()
	require.Len(t, snap.PerMinute, 1)
	assert.Equal(t, t0, snap.PerMinute[0].Minute)
	assert.Equal(t, uint64(3), snap.PerMinute[0].Count)
	assert.Equal(t, uint64(3), snap.Sent)
	assert.Equal(t, uint64(30), snap.BytesOut)
}

func TestCounterRollsOver(t *testing.T) {
	s := NewStat(t0)
	s.RecordSent(1, t0)
	s.RecordSent(1, t0.Add(time.Minute))
	s.RecordSent(1, t0.Add(time.Minute+time.Second))
	s.RecordSent(1, t0.Add(3*time.Minute))

	snap := s.Snapshot()
	require.Len(t, snap.PerMinute, 3)
	assert.Equal(t, MinuteCount{Minute: t0, Count: 1}, snap.PerMinute[0])
	assert.Equal(t, MinuteCount{Minute: t0.Add(time.Minute), Count: 2}, snap.PerMinute[1])
	assert.Equal(t, MinuteCount{Minute: t0.Add(3 * time.Minute), Count: 1}, snap.PerMinute[2])
}

func TestCounterKeepsLastHour(t *testing.T) {
	s := NewStat(t0)
	for i := 0; i < 90; i++ {
		s.RecordSent(1, t0.Add(time.Duration(i)*time.Minute))
	}
	snap := s.Snapshot()
	require.Len(t, snap.PerMinute, 60)
	assert.Equal(t, t0.Add(30*time.Minute), snap.PerMinute[0].Minute)
	assert.Equal(t, t0.Add(89*time.Minute), snap.PerMinute[59].Minute)
}

func TestTimeEvents(t *testing.T) {
	s := NewStat(t0)
	assert.True(t, s.Snapshot().LastConnect.IsZero())
	for i := 0; i < 12; i++ {
		s.ConnectEv(t0.Add(time.Duration(i) * time.Second))
	}
	s.DisconnectEv(t0.Add(time.Hour))
	snap := s.Snapshot()
	assert.Equal(t, t0.Add(11*time.Second), snap.LastConnect)
	assert.Equal(t, t0.Add(time.Hour), snap.LastDisconnect)
}

func TestFailureCounters(t *testing.T) {
	s := NewStat(t0)
	s.WriteErr()
	s.WriteErr()
	s.Dropped()
	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.WriteErrors)
	assert.Equal(t, uint64(1), snap.Dropped)
}
