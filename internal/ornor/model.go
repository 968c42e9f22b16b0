// Package ornor is a small multi-chain Gibbs sampler for the noisy-OR/NOR
// regulatory model. Regulators X are active or not, each regulator has a
// regulation strength T, and each edge S is active with probability T.
// A target's predicted differential state is the sign of the summed modes of its
// active incoming edges, and the evidence is observed through a noisy channel
// controlled by zy, zn and s_leniency.
package ornor

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dyluth/nlbayes/internal/sampler"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

const (
	xPrior  = 0.1
	probEps = 1e-6

	defaultTAlpha = 2.0
	defaultTBeta  = 2.0
)

type edge struct {
	src    int
	target int
	mode   int
}

// Model is a Gibbs sampler over one network and one evidence set.
type Model struct {
	regulators []string
	targets    []string
	edges      []edge
	bySrc      [][]int // edge indexes per regulator
	byTarget   [][]int // edge indexes per target
	observed   []int

	tAlpha, tBeta float64
	lik           likelihood

	seed   uint64
	chains []*chain
	count  int
	rhat   float64
}

// New builds a model. It satisfies sampler.Factory.
func New(network jobstore.Network, evidence jobstore.Evidence, cfg jobstore.InferenceConfig, seed uint64) (sampler.Sampler, error) {
	return NewModel(network, evidence, cfg, seed)
}

// NewModel builds a model from a network, evidence and inference options.
func NewModel(network jobstore.Network, evidence jobstore.Evidence, cfg jobstore.InferenceConfig, seed uint64) (*Model, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}
	if err := evidence.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		seed: seed,
		rhat: math.Inf(1),
		lik:  newLikelihood(cfg.Zy, cfg.Zn, cfg.SLeniency),
	}

	m.tAlpha, m.tBeta = defaultTAlpha, defaultTBeta
	if cfg.UniformT {
		m.tAlpha, m.tBeta = 1, 1
	} else {
		if cfg.TAlpha != nil {
			m.tAlpha = *cfg.TAlpha
		}
		if cfg.TBeta != nil {
			m.tBeta = *cfg.TBeta
		}
	}
	if m.tAlpha <= 0 || m.tBeta <= 0 {
		return nil, fmt.Errorf("beta prior parameters must be positive, got alpha=%g beta=%g", m.tAlpha, m.tBeta)
	}

	m.regulators = sortedKeys(network)
	targetSet := make(map[string]struct{})
	for _, targets := range network {
		for trg := range targets {
			targetSet[trg] = struct{}{}
		}
	}
	m.targets = sortedKeys(targetSet)

	targetIndex := make(map[string]int, len(m.targets))
	for i, trg := range m.targets {
		targetIndex[trg] = i
	}

	m.bySrc = make([][]int, len(m.regulators))
	m.byTarget = make([][]int, len(m.targets))
	for s, src := range m.regulators {
		for _, trg := range sortedKeys(network[src]) {
			e := edge{src: s, target: targetIndex[trg], mode: network[src][trg]}
			m.bySrc[s] = append(m.bySrc[s], len(m.edges))
			m.byTarget[e.target] = append(m.byTarget[e.target], len(m.edges))
			m.edges = append(m.edges, e)
		}
	}

	m.observed = make([]int, len(m.targets))
	for i, trg := range m.targets {
		m.observed[i] = evidence[trg]
	}

	return m, nil
}

// SampleN runs n Gibbs sweeps on every chain and updates the convergence statistic.
// The chain count is fixed by the first call.
func (m *Model) SampleN(n, chains int, threshold float64) (int, error) {
	if n < 0 {
		return 1, fmt.Errorf("sample count must not be negative, got %d", n)
	}
	if chains < 2 {
		return 1, fmt.Errorf("at least two chains are required, got %d", chains)
	}
	if m.chains == nil {
		m.initChains(chains)
	} else if len(m.chains) != chains {
		return 1, fmt.Errorf("model was started with %d chains, cannot continue with %d", len(m.chains), chains)
	}

	for i := 0; i < n; i++ {
		for _, c := range m.chains {
			m.sweep(c)
			c.record(m)
		}
	}
	m.count += n

	m.rhat = m.gelmanRubin()
	if m.rhat <= threshold {
		return 0, nil
	}
	return 1, nil
}

// SampleCount returns the number of samples per chain since the last reset.
func (m *Model) SampleCount() int {
	return m.count
}

// ConvergenceStat returns the maximum Gelman-Rubin statistic over all tracked variables.
func (m *Model) ConvergenceStat() float64 {
	return m.rhat
}

// ResetBurnin discards the accumulated statistics. Chain states are kept.
func (m *Model) ResetBurnin() {
	for _, c := range m.chains {
		c.resetStats()
	}
	m.count = 0
	m.rhat = math.Inf(1)
}

// PosteriorMean returns per-regulator means averaged over chains.
// "X" reports the frequency of X == index (0 or 1); "T" reports the mean strength.
func (m *Model) PosteriorMean(name string, index int) (map[string]float64, error) {
	out := make(map[string]float64, len(m.regulators))
	if len(m.chains) == 0 {
		return out, nil
	}

	switch name {
	case "X":
		if index != 0 && index != 1 {
			return nil, fmt.Errorf("X has no value %d", index)
		}
		for s, reg := range m.regulators {
			var mean float64
			for _, c := range m.chains {
				mean += c.xStats[s].mean
			}
			mean /= float64(len(m.chains))
			if index == 0 {
				mean = 1 - mean
			}
			out[reg] = mean
		}
	case "T":
		for s, reg := range m.regulators {
			var mean float64
			for _, c := range m.chains {
				mean += c.tStats[s].mean
			}
			out[reg] = mean / float64(len(m.chains))
		}
	default:
		return nil, fmt.Errorf("%q: %w", name, sampler.ErrUnknownVariable)
	}

	return out, nil
}

func (m *Model) initChains(n int) {
	m.chains = make([]*chain, n)
	for i := range m.chains {
		rng := rand.New(rand.NewPCG(m.seed, uint64(i)+1))
		c := &chain{
			rng:    rng,
			beta:   distuv.Beta{Alpha: m.tAlpha, Beta: m.tBeta, Src: rng},
			x:      make([]bool, len(m.regulators)),
			t:      make([]float64, len(m.regulators)),
			s:      make([]bool, len(m.edges)),
			sum:    make([]int, len(m.targets)),
			xStats: make([]running, len(m.regulators)),
			tStats: make([]running, len(m.regulators)),
		}
		for r := range m.regulators {
			c.x[r] = rng.Float64() < xPrior
			c.t[r] = c.beta.Rand()
		}
		for e, ed := range m.edges {
			c.s[e] = rng.Float64() < c.t[ed.src]
			if c.x[ed.src] && c.s[e] {
				c.sum[ed.target] += ed.mode
			}
		}
		m.chains[i] = c
	}
}

// sweep performs one full Gibbs scan: X, then S, then T.
func (m *Model) sweep(c *chain) {
	for r := range m.regulators {
		m.updateX(c, r)
	}
	for e := range m.edges {
		m.updateS(c, e)
	}
	for r := range m.regulators {
		m.updateT(c, r)
	}
}

func (m *Model) updateX(c *chain, r int) {
	// log odds of X=1 vs X=0 given everything else
	logOdds := math.Log(xPrior) - math.Log(1-xPrior)
	for _, e := range m.bySrc[r] {
		if !c.s[e] {
			continue
		}
		ed := m.edges[e]
		on, off := c.sum[ed.target], c.sum[ed.target]
		if c.x[r] {
			off -= ed.mode
		} else {
			on += ed.mode
		}
		logOdds += m.lik.log(m.observed[ed.target], sign(on)) - m.lik.log(m.observed[ed.target], sign(off))
	}

	next := c.rng.Float64() < logistic(logOdds)
	if next == c.x[r] {
		return
	}
	c.x[r] = next
	for _, e := range m.bySrc[r] {
		if !c.s[e] {
			continue
		}
		ed := m.edges[e]
		if next {
			c.sum[ed.target] += ed.mode
		} else {
			c.sum[ed.target] -= ed.mode
		}
	}
}

func (m *Model) updateS(c *chain, e int) {
	ed := m.edges[e]
	t := clamp(c.t[ed.src])
	logOdds := math.Log(t) - math.Log(1-t)

	if c.x[ed.src] {
		on, off := c.sum[ed.target], c.sum[ed.target]
		if c.s[e] {
			off -= ed.mode
		} else {
			on += ed.mode
		}
		logOdds += m.lik.log(m.observed[ed.target], sign(on)) - m.lik.log(m.observed[ed.target], sign(off))
	}

	next := c.rng.Float64() < logistic(logOdds)
	if next == c.s[e] {
		return
	}
	c.s[e] = next
	if c.x[ed.src] {
		if next {
			c.sum[ed.target] += ed.mode
		} else {
			c.sum[ed.target] -= ed.mode
		}
	}
}

func (m *Model) updateT(c *chain, r int) {
	active := 0
	for _, e := range m.bySrc[r] {
		if c.s[e] {
			active++
		}
	}
	c.beta.Alpha = m.tAlpha + float64(active)
	c.beta.Beta = m.tBeta + float64(len(m.bySrc[r])-active)
	c.t[r] = c.beta.Rand()
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(p float64) float64 {
	return math.Min(math.Max(p, probEps), 1-probEps)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
