package location

import "time"

// Sample is one position fix. Time is milliseconds since the Unix epoch, UTC.
type Sample struct {
	Time             int64
	SourceIdentifier string
	DeviceLabel      string
	Latitude         float64
	Longitude        float64
}

func (s Sample) Timestamp() time.Time {
	return time.UnixMilli(s.Time).UTC()
}

type Handler func(Sample)

type Subscription interface {
	Unsubscribe()
}

// Source delivers samples asynchronously to its subscribers and reports whether the
// underlying provider is enabled.
type Source interface {
	Subscribe(h Handler) Subscription
	Enabled() bool
}

// StatusNotifier is implemented by sources that signal provider enable/disable changes.
// A receive on the channel only means "status may have changed"; callers re-check Enabled.
type StatusNotifier interface {
	StatusChanged() <-chan struct{}
}
