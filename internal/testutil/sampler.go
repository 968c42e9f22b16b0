package testutil

import (
	"math"
	"sync"

	"github.com/dyluth/nlbayes/internal/sampler"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// StubSampler replays scripted convergence results. Burn-in calls consume
// BurninStatuses until ResetBurnin is called, sampling calls consume
// SamplingStatuses afterwards. An exhausted script keeps returning 1.
type StubSampler struct {
	BurninStatuses   []int
	SamplingStatuses []int

	// FailAt makes the FailAt-th SampleN call (1-based) return Err, or panic
	// with PanicValue when it is set.
	FailAt     int
	Err        error
	PanicValue interface{}

	// OnSample runs before every SampleN call with the 1-based call number.
	OnSample func(call int)

	X map[string]float64
	T map[string]float64

	mu     sync.Mutex
	calls  int
	count  int
	stat   float64
	reset  bool
	Resets int
	Sizes  []int
}

// SampleN implements sampler.Sampler.
func (s *StubSampler) SampleN(n, chains int, threshold float64) (int, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.OnSample
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAt == call {
		if s.PanicValue != nil {
			panic(s.PanicValue)
		}
		return 1, s.Err
	}

	s.Sizes = append(s.Sizes, n)
	s.count += n

	script := &s.BurninStatuses
	if s.reset {
		script = &s.SamplingStatuses
	}
	status := 1
	if len(*script) > 0 {
		status = (*script)[0]
		*script = (*script)[1:]
	}

	if status == 0 {
		s.stat = threshold
	} else {
		s.stat = threshold + 1
	}
	return status, nil
}

// SampleCount implements sampler.Sampler.
func (s *StubSampler) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ConvergenceStat implements sampler.Sampler.
func (s *StubSampler) ConvergenceStat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == 0 {
		return math.Inf(1)
	}
	return s.stat
}

// ResetBurnin implements sampler.Sampler.
func (s *StubSampler) ResetBurnin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.reset = true
	s.Resets++
}

// PosteriorMean implements sampler.Sampler.
func (s *StubSampler) PosteriorMean(name string, index int) (map[string]float64, error) {
	switch name {
	case "X":
		return copyMap(s.X), nil
	case "T":
		return copyMap(s.T), nil
	default:
		return nil, sampler.ErrUnknownVariable
	}
}

// StubFactory returns a sampler.Factory that always hands out stub.
func StubFactory(stub *StubSampler) sampler.Factory {
	return func(jobstore.Network, jobstore.Evidence, jobstore.InferenceConfig, uint64) (sampler.Sampler, error) {
		return stub, nil
	}
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
