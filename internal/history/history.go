// Package history records fallback attempts and derives chain-ranking
// statistics from them.
//
// The central type is [History], a bounded in-memory log of [Attempt] values
// plus per-backend success/attempt counters. [History.Statistics] aggregates
// the log into a read-only report and [History.OptimizeChain] ranks backend
// configs by historical success rate and latency. Ranking is a report, not a
// mutation: the orchestrator's chain order only changes through its own
// explicit SetChain entry point.
//
// All types are safe for concurrent use.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

const (
	// maxEntries is the hard bound on the attempt log.
	maxEntries = 1000

	// trimTo is the number of most-recent entries retained once maxEntries is
	// exceeded. Trimming in bulk keeps appends O(1) amortised while preserving
	// recency bias.
	trimTo = 500

	// minAttemptsForRanking is the minimum number of recorded attempts before
	// OptimizeChain produces a ranking.
	minAttemptsForRanking = 10

	// scoreEpsilon (seconds) guards the ranking score against division by zero
	// for near-instant backends.
	scoreEpsilon = 0.1
)

// Trigger is the classified reason a fallback was initiated.
type Trigger string

const (
	// TriggerTimeout: the backend call errored with a timeout.
	TriggerTimeout Trigger = "timeout"

	// TriggerMemoryPressure: the backend call errored due to memory exhaustion.
	TriggerMemoryPressure Trigger = "memory_pressure"

	// TriggerModelUnavailable: the backend or its model could not be loaded.
	TriggerModelUnavailable Trigger = "model_unavailable"

	// TriggerRTFExceeded: inference succeeded but the real-time factor missed
	// the configured threshold.
	TriggerRTFExceeded Trigger = "rtf_exceeded"

	// TriggerMemoryExceeded: inference succeeded but peak memory missed the
	// configured threshold.
	TriggerMemoryExceeded Trigger = "memory_exceeded"

	// TriggerError: any other backend failure.
	TriggerError Trigger = "error"
)

// Attempt is one fallback try. Appended once, never updated.
type Attempt struct {
	Trigger        Trigger
	FromConfig     backend.Config
	ToConfig       backend.Config
	Succeeded      bool
	ProcessingTime time.Duration
	ErrorMessage   string
	Timestamp      time.Time
}

// configCounters tracks aggregate outcomes for one backend identity key.
type configCounters struct {
	attempts  int
	successes int
}

// History is a bounded append-only log of fallback attempts plus per-config
// aggregate counters. Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	attempts []Attempt
	counters map[string]*configCounters
}

// New returns an empty History.
func New() *History {
	return &History{
		counters: make(map[string]*configCounters),
	}
}

// Record appends an attempt and updates the counters for its target config.
// When the log exceeds the bound, only the most recent entries are retained.
func (h *History) Record(a Attempt) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = append(h.attempts, a)
	if len(h.attempts) > maxEntries {
		trimmed := make([]Attempt, trimTo)
		copy(trimmed, h.attempts[len(h.attempts)-trimTo:])
		h.attempts = trimmed
	}

	key := a.ToConfig.Key()
	c := h.counters[key]
	if c == nil {
		c = &configCounters{}
		h.counters[key] = c
	}
	c.attempts++
	if a.Succeeded {
		c.successes++
	}
}

// Len returns the current number of retained attempts.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.attempts)
}

// Recent returns up to n most recent attempts, newest last.
func (h *History) Recent(n int) []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.attempts) {
		n = len(h.attempts)
	}
	out := make([]Attempt, n)
	copy(out, h.attempts[len(h.attempts)-n:])
	return out
}

// TriggerCount pairs a trigger with the number of times it initiated a
// fallback, for the [Statistics] report.
type TriggerCount struct {
	Trigger Trigger `json:"trigger"`
	Count   int     `json:"count"`
}

// ConfigStats summarises outcomes for one backend identity key.
type ConfigStats struct {
	Key         string  `json:"key"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Statistics is a point-in-time aggregation over the attempt log.
type Statistics struct {
	TotalAttempts int     `json:"total_attempts"`
	SuccessRate   float64 `json:"success_rate"`

	// Triggers is ordered by descending frequency.
	Triggers []TriggerCount `json:"triggers,omitempty"`

	// PerConfig is ordered by descending success rate.
	PerConfig []ConfigStats `json:"per_config,omitempty"`
}

// Statistics aggregates the retained attempts into a read-only report.
func (h *History) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Statistics{TotalAttempts: len(h.attempts)}
	if len(h.attempts) == 0 {
		return stats
	}

	succeeded := 0
	triggerCounts := make(map[Trigger]int)
	for _, a := range h.attempts {
		if a.Succeeded {
			succeeded++
		}
		triggerCounts[a.Trigger]++
	}
	stats.SuccessRate = float64(succeeded) / float64(len(h.attempts))

	for trig, n := range triggerCounts {
		stats.Triggers = append(stats.Triggers, TriggerCount{Trigger: trig, Count: n})
	}
	sort.Slice(stats.Triggers, func(i, j int) bool {
		if stats.Triggers[i].Count != stats.Triggers[j].Count {
			return stats.Triggers[i].Count > stats.Triggers[j].Count
		}
		return stats.Triggers[i].Trigger < stats.Triggers[j].Trigger
	})

	for key, c := range h.counters {
		stats.PerConfig = append(stats.PerConfig, ConfigStats{
			Key:         key,
			Attempts:    c.attempts,
			Successes:   c.successes,
			SuccessRate: float64(c.successes) / float64(c.attempts),
		})
	}
	sort.Slice(stats.PerConfig, func(i, j int) bool {
		if stats.PerConfig[i].SuccessRate != stats.PerConfig[j].SuccessRate {
			return stats.PerConfig[i].SuccessRate > stats.PerConfig[j].SuccessRate
		}
		return stats.PerConfig[i].Key < stats.PerConfig[j].Key
	})

	return stats
}

// RankedConfig is one entry in an [OptimizeChain] report.
type RankedConfig struct {
	Key         string  `json:"key"`
	Score       float64 `json:"score"`
	SuccessRate float64 `json:"success_rate"`

	// AvgSuccessTime is the mean processing time over successful attempts.
	AvgSuccessTime time.Duration `json:"avg_success_time"`
}

// Ranking is the result of [History.OptimizeChain].
type Ranking struct {
	// Sufficient reports whether enough attempts were recorded to rank. When
	// false, Configs is empty and callers must not reorder anything.
	Sufficient bool `json:"sufficient"`

	// AttemptsSeen is the number of attempts the ranking was derived from.
	AttemptsSeen int `json:"attempts_seen"`

	// Configs is ordered by descending score.
	Configs []RankedConfig `json:"configs,omitempty"`
}

// OptimizeChain ranks every backend config that has at least one successful
// attempt by score = successRate * 1/(avgSuccessSeconds + ε), descending.
// With fewer than 10 recorded attempts the ranking is reported as
// insufficient and no configs are returned.
func (h *History) OptimizeChain() Ranking {
	h.mu.Lock()
	defer h.mu.Unlock()

	rank := Ranking{AttemptsSeen: len(h.attempts)}
	if len(h.attempts) < minAttemptsForRanking {
		return rank
	}
	rank.Sufficient = true

	type agg struct {
		successes int
		totalTime time.Duration
	}
	byKey := make(map[string]*agg)
	for _, a := range h.attempts {
		if !a.Succeeded {
			continue
		}
		s := byKey[a.ToConfig.Key()]
		if s == nil {
			s = &agg{}
			byKey[a.ToConfig.Key()] = s
		}
		s.successes++
		s.totalTime += a.ProcessingTime
	}

	for key, s := range byKey {
		c := h.counters[key]
		if c == nil || c.attempts == 0 {
			continue
		}
		avg := s.totalTime / time.Duration(s.successes)
		successRate := float64(c.successes) / float64(c.attempts)
		score := successRate * (1.0 / (avg.Seconds() + scoreEpsilon))
		rank.Configs = append(rank.Configs, RankedConfig{
			Key:            key,
			Score:          score,
			SuccessRate:    successRate,
			AvgSuccessTime: avg,
		})
	}
	sort.Slice(rank.Configs, func(i, j int) bool {
		if rank.Configs[i].Score != rank.Configs[j].Score {
			return rank.Configs[i].Score > rank.Configs[j].Score
		}
		return rank.Configs[i].Key < rank.Configs[j].Key
	})

	return rank
}
