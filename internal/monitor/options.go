package monitor

import "time"

// Defaults applied by New.
const (
	DefaultInterval          = 10 * time.Second
	DefaultWorkers           = 4
	DefaultMaxConcurrentRuns = 1
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultDegradedThreshold = 5
	DefaultWebhookAddr       = "127.0.0.1:5000"
	DefaultMaxFiresPerPoll   = 100
)

// Option customizes a Monitor.
type Option func(*Monitor)

// WithInterval sets how often each trigger is checked.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWorkers sets the size of the dispatch worker pool.
func WithWorkers(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMaxConcurrentRuns sets how many runs of one pipeline may be active at
// once.
func WithMaxConcurrentRuns(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithShutdownTimeout bounds how long in-flight runs may take to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

// WithDegradedThreshold sets the number of consecutive Check failures after
// which a trigger stops being polled.
func WithDegradedThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.degradedThreshold = n
		}
	}
}

// WithWebhookAddr sets the listen address of the webhook server. An empty
// address disables it.
func WithWebhookAddr(addr string) Option {
	return func(m *Monitor) {
		m.webhookAddr = addr
	}
}

// WithMaxFiresPerPoll bounds how many fires one trigger may produce per poll.
func WithMaxFiresPerPoll(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxFiresPerPoll = n
		}
	}
}

// WithRunHook registers a callback invoked once for every fire: when its run
// ends, when the run is abandoned, or when the fire is dropped at shutdown.
func WithRunHook(fn func(RunResult)) Option {
	return func(m *Monitor) {
		m.runHook = fn
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}
