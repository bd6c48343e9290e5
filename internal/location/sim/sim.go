// Package sim is a location source that random-walks from a start position. Updates
// follow the platform rule of a minimum delay and a minimum travelled distance between
// two delivered samples.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/location"
)

const earthRadius = 6371000.0

type Config struct {
	Interval       time.Duration
	MinDistance    float64 // meters
	Step           float64 // maximum meters moved per interval
	StartLatitude  float64
	StartLongitude float64
	Seed           int64
}

type subscription struct {
	s  *Simulator
	id uint64
}

func (sub *subscription) Unsubscribe() {
	sub.s.unsubscribe(sub.id)
}

type Simulator struct {
	mu       sync.Mutex
	config   *Config
	clock    clockwork.Clock
	rnd      *rand.Rand
	logger   zerolog.Logger
	enabled  bool
	subs     map[uint64]location.Handler
	sub_next uint64
	lat      float64
	lon      float64
	last_lat float64
	last_lon float64
	emitted  bool
	status   chan struct{}
}

func New(config *Config, clock clockwork.Clock) *Simulator {
	o := &Simulator{config: config, clock: clock}
	o.rnd = rand.New(rand.NewSource(config.Seed))
	o.logger = log.With().Str("module", "location-sim").Logger()
	o.enabled = true
	o.subs = make(map[uint64]location.Handler)
	o.lat = config.StartLatitude
	o.lon = config.StartLongitude
	o.status = make(chan struct{}, 1)
	return o
}

func (s *Simulator) Subscribe(h location.Handler) location.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub_next++
	s.subs[s.sub_next] = h
	return &subscription{s: s, id: s.sub_next}
}

func (s *Simulator) unsubscribe(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Simulator) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Simulator) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Simulator) SetEnabled(enabled bool) {
	s.mu.Lock()
	changed := s.enabled != enabled
	s.enabled = enabled
	s.mu.Unlock()
	if !changed {
		return
	}
	s.logger.Info().Bool("enabled", enabled).Msg("provider status changed")
	select {
	case s.status <- struct{}{}:
	default:
	}
}

func (s *Simulator) StatusChanged() <-chan struct{} {
	return s.status
}

// Run moves the position every interval and delivers a sample when the provider is
// enabled and the position moved far enough since the last delivered sample.
func (s *Simulator) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.step()
		}
	}
}

func (s *Simulator) step() {
	s.mu.Lock()
	s.move()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	if s.emitted && Distance(s.last_lat, s.last_lon, s.lat, s.lon) < s.config.MinDistance {
		s.mu.Unlock()
		return
	}
	s.emitted = true
	s.last_lat, s.last_lon = s.lat, s.lon
	sample := location.Sample{
		Time:      s.clock.Now().UnixMilli(),
		Latitude:  s.lat,
		Longitude: s.lon,
	}
	handlers := make([]location.Handler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(sample)
	}
}

func (s *Simulator) move() {
	if s.config.Step <= 0 {
		return
	}
	d := s.rnd.Float64() * s.config.Step
	bearing := s.rnd.Float64() * 2 * math.Pi
	dlat := d * math.Cos(bearing) / earthRadius
	dlon := d * math.Sin(bearing) / (earthRadius * math.Cos(s.lat*math.Pi/180))
	s.lat += dlat * 180 / math.Pi
	s.lon += dlon * 180 / math.Pi
	if s.lat > 90 {
		s.lat = 180 - s.lat
	} else if s.lat < -90 {
		s.lat = -180 - s.lat
	}
	if s.lon > 180 {
		s.lon -= 360
	} else if s.lon < -180 {
		s.lon += 360
	}
}

// Distance is the haversine great-circle distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
