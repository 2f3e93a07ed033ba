package orchestrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/voicekit-labs/cascade/pkg/backend"
	backendmock "github.com/voicekit-labs/cascade/pkg/backend/mock"
)

func TestCache_GetOrCreate_ReturnsSameInstance(t *testing.T) {
	t.Parallel()

	var constructions atomic.Int64
	reg := backend.NewRegistry()
	reg.Register("mock", func(cfg backend.Config) (backend.Transcriber, error) {
		constructions.Add(1)
		return &backendmock.Transcriber{Text: cfg.ModelID}, nil
	})
	c := NewCache(reg, nil)

	cfg := testConfig("tiny")
	first, err := c.GetOrCreate(cfg)
	if err != nil {
		t.Fatalf("GetOrCreate() unexpected error: %v", err)
	}
	second, err := c.GetOrCreate(cfg)
	if err != nil {
		t.Fatalf("GetOrCreate() unexpected error: %v", err)
	}
	if first != second {
		t.Error("GetOrCreate() returned different instances for the same key")
	}
	if got := constructions.Load(); got != 1 {
		t.Errorf("factory ran %d times, want 1", got)
	}
}

func TestCache_GetOrCreate_DistinctKeysDistinctInstances(t *testing.T) {
	t.Parallel()

	reg := backend.NewRegistry()
	reg.Register("mock", func(cfg backend.Config) (backend.Transcriber, error) {
		return &backendmock.Transcriber{}, nil
	})
	c := NewCache(reg, nil)

	a, _ := c.GetOrCreate(testConfig("a"))
	b, _ := c.GetOrCreate(testConfig("b"))
	if a == b {
		t.Error("different identity keys shared one instance")
	}

	// Device and thread count are tuning, not identity: same instance.
	base := testConfig("a")
	tuned := base
	tuned.Device = "cuda:0"
	tuned.Threads = 8
	again, _ := c.GetOrCreate(tuned)
	if again != a {
		t.Error("tuning fields changed the cache identity")
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCache_GetOrCreate_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()

	var constructions atomic.Int64
	reg := backend.NewRegistry()
	reg.Register("mock", func(cfg backend.Config) (backend.Transcriber, error) {
		constructions.Add(1)
		return &backendmock.Transcriber{}, nil
	})
	c := NewCache(reg, nil)

	const goroutines = 50
	results := make([]backend.Transcriber, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := c.GetOrCreate(testConfig("shared"))
			if err != nil {
				t.Errorf("GetOrCreate() unexpected error: %v", err)
				return
			}
			results[i] = tr
		}()
	}
	wg.Wait()

	if got := constructions.Load(); got != 1 {
		t.Fatalf("factory ran %d times under concurrent first use, want 1", got)
	}
	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d observed a different instance", i)
		}
	}
}

func TestCache_GetOrCreate_FailureNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	reg := backend.NewRegistry()
	reg.Register("mock", func(cfg backend.Config) (backend.Transcriber, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model download incomplete")
		}
		return &backendmock.Transcriber{}, nil
	})
	c := NewCache(reg, nil)

	if _, err := c.GetOrCreate(testConfig("flaky")); err == nil {
		t.Fatal("first GetOrCreate() succeeded, want construction error")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after failed construction, want 0", c.Len())
	}

	// A later request retries construction.
	if _, err := c.GetOrCreate(testConfig("flaky")); err != nil {
		t.Fatalf("retry GetOrCreate() unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("factory ran %d times, want 2", calls.Load())
	}
}

// closableTranscriber counts Close calls.
type closableTranscriber struct {
	backendmock.Transcriber
	closed atomic.Int64
}

func (c *closableTranscriber) Close() error {
	c.closed.Add(1)
	return nil
}

func TestCache_Clear_ReleasesClosers(t *testing.T) {
	t.Parallel()

	tr := &closableTranscriber{}
	reg := backend.NewRegistry()
	reg.Register("mock", func(cfg backend.Config) (backend.Transcriber, error) {
		return tr, nil
	})
	c := NewCache(reg, nil)

	if _, err := c.GetOrCreate(testConfig("closable")); err != nil {
		t.Fatalf("GetOrCreate() unexpected error: %v", err)
	}

	c.Clear()
	if got := tr.closed.Load(); got != 1 {
		t.Errorf("Close called %d times, want 1", got)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
}
