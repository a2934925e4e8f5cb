package autopilot

import "time"

// Metrics is a read-only view of the fleet loop. It is updated from the fleet goroutine and
// read from HTTP handlers and tests.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Ships   int `json:"ships"`
	Running int `json:"running"`
	Clients int `json:"clients"`

	Reservations     int    `json:"reservations"`
	ReservedTotal    uint64 `json:"reserved_total"`
	ReleasedTotal    uint64 `json:"released_total"`
	Targeted         int    `json:"targeted"`
	DeferredDepth    int    `json:"deferred_depth"`
	DeferredFailed   uint64 `json:"deferred_failed_total"`
	LevelsCompleted  uint64 `json:"levels_completed_total"`
	DroppedIndexRows uint64 `json:"dropped_index_writes_total"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (f *Fleet) Metrics() Metrics {
	if f == nil {
		return Metrics{}
	}
	m, _ := f.metrics.Load().(Metrics)
	return m
}

func (f *Fleet) storeMetrics(tick uint64, took time.Duration) {
	m := Metrics{
		Tick:         tick,
		Ships:        len(f.ships),
		Clients:      len(f.clients),
		Reservations: f.reservations.Len(),
		QueueDepths: QueueDepths{
			Inbox: len(f.inbox),
			Join:  len(f.join),
			Leave: len(f.leave),
		},
		StepMS: float64(took.Microseconds()) / 1000,
	}
	m.ReservedTotal, m.ReleasedTotal = f.reservations.Stats()
	for _, a := range f.ships {
		switch a.state {
		case StateRunning, StateWaiting:
			m.Running++
		}
		if _, ok := f.targeters.Target(a.p.Ship.ID()); ok {
			m.Targeted++
		}
		m.DeferredDepth += a.deferred
		m.LevelsCompleted += a.completions
		_, failed := a.p.Queue.Stats()
		m.DeferredFailed += failed
	}
	if f.dropped != nil {
		m.DroppedIndexRows = f.dropped()
	}
	f.metrics.Store(m)
}
