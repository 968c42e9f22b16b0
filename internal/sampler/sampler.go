// Package sampler defines the capability the sampling runner drives: a
// multi-chain MCMC model that samples in batches and reports convergence.
package sampler

import (
	"errors"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// Sampler is a stateful multi-chain model. Implementations are not safe for
// concurrent use; the runner owns one sampler per task.
type Sampler interface {
	// SampleN draws n samples on each of chains chains and returns 0 once the
	// convergence statistic is at or below threshold, 1 otherwise.
	SampleN(n, chains int, threshold float64) (int, error)

	// SampleCount is the number of samples accumulated per chain since the last reset.
	SampleCount() int

	// ConvergenceStat is the latest Gelman-Rubin statistic, +Inf while undefined.
	ConvergenceStat() float64

	// ResetBurnin discards accumulated samples and statistics, keeping chain positions.
	ResetBurnin()

	// PosteriorMean returns, per node, the mean of variable name. For discrete
	// variables index selects the value whose frequency is reported.
	PosteriorMean(name string, index int) (map[string]float64, error)
}

// Factory builds a sampler for one job.
type Factory func(network jobstore.Network, evidence jobstore.Evidence, cfg jobstore.InferenceConfig, seed uint64) (Sampler, error)

// ErrUnknownVariable is returned by PosteriorMean for variables the model does not have.
var ErrUnknownVariable = errors.New("unknown model variable")
