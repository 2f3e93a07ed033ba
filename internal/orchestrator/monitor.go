package orchestrator

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// defaultSampleInterval is how often the monitor reads process memory.
	defaultSampleInterval = 100 * time.Millisecond

	// monitorJoinTimeout bounds how long Stop waits for the sampling goroutine
	// to exit before giving up on it.
	monitorJoinTimeout = time.Second
)

const bytesPerMB = 1024 * 1024

// memReader reads the current resident set size of this process in bytes.
// Abstracted so tests can substitute a deterministic source.
type memReader func() (uint64, error)

// gopsutilReader samples RSS via gopsutil for the current process.
func gopsutilReader() (memReader, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return func() (uint64, error) {
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0, err
		}
		if info == nil {
			return 0, errors.New("no memory info available")
		}
		return info.RSS, nil
	}, nil
}

// Monitor samples process memory on a background goroutine for the duration
// of one inference attempt and reports peak-minus-baseline usage when
// stopped. One Monitor serves exactly one attempt; construct a fresh one per
// call so stale readings never leak across attempts.
type Monitor struct {
	read     memReader
	interval time.Duration

	mu       sync.Mutex
	baseline uint64
	peak     uint64
	started  bool
	stopping bool

	done    chan struct{}
	stopped chan struct{}
}

// NewMonitor creates a Monitor sampling at the default 100 ms interval.
// Returns an error if process memory cannot be read on this host.
func NewMonitor() (*Monitor, error) {
	read, err := gopsutilReader()
	if err != nil {
		return nil, err
	}
	return newMonitor(read, defaultSampleInterval), nil
}

func newMonitor(read memReader, interval time.Duration) *Monitor {
	return &Monitor{
		read:     read,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start records the baseline memory reading and begins the sampling loop.
// Calling Start more than once is an error.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor: already started")
	}
	m.started = true

	base, err := m.read()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.baseline = base
	m.peak = base
	m.mu.Unlock()

	go m.loop()
	return nil
}

// loop samples memory until Stop closes the done channel. A failed read skips
// that tick; it is not fatal.
func (m *Monitor) loop() {
	defer close(m.stopped)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			rss, err := m.read()
			if err != nil {
				continue
			}
			m.mu.Lock()
			if rss > m.peak {
				m.peak = rss
			}
			m.mu.Unlock()
		}
	}
}

// Stop terminates the sampling loop, waits (bounded) for it to exit, and
// returns peak-minus-baseline in megabytes. Safe to call on a Monitor that
// never started; it then reports zero. Repeated calls recompute the delta
// without touching the already-closed loop.
func (m *Monitor) Stop() float64 {
	m.mu.Lock()
	started := m.started
	stopping := m.stopping
	m.stopping = true
	m.mu.Unlock()
	if !started {
		return 0
	}

	if !stopping {
		close(m.done)
	}
	select {
	case <-m.stopped:
	case <-time.After(monitorJoinTimeout):
		slog.Warn("resource monitor: sampling loop did not stop within join timeout")
	}

	// One final reading so short attempts that never saw a tick still report
	// their end-of-call footprint.
	if rss, err := m.read(); err == nil {
		m.mu.Lock()
		if rss > m.peak {
			m.peak = rss
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peak <= m.baseline {
		return 0
	}
	return float64(m.peak-m.baseline) / bytesPerMB
}
