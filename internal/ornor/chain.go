package ornor

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

type chain struct {
	rng  *rand.Rand
	beta distuv.Beta

	x   []bool
	t   []float64
	s   []bool
	sum []int // signed sum of active incoming edges per target

	xStats []running
	tStats []running
}

func (c *chain) record(m *Model) {
	for r := range m.regulators {
		v := 0.0
		if c.x[r] {
			v = 1
		}
		c.xStats[r].add(v)
		c.tStats[r].add(c.t[r])
	}
}

func (c *chain) resetStats() {
	for i := range c.xStats {
		c.xStats[i] = running{}
		c.tStats[i] = running{}
	}
}

// running is Welford's online mean and variance.
type running struct {
	n    int
	mean float64
	m2   float64
}

func (r *running) add(v float64) {
	r.n++
	d := v - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (v - r.mean)
}

func (r *running) variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// gelmanRubin returns the largest potential scale reduction factor over all
// tracked variables. It is +Inf until every chain holds at least two samples.
func (m *Model) gelmanRubin() float64 {
	if len(m.chains) < 2 || m.count < 2 || len(m.regulators) == 0 {
		return math.Inf(1)
	}

	worst := 0.0
	means := make([]float64, len(m.chains))
	vars := make([]float64, len(m.chains))

	collect := func(pick func(c *chain) running) float64 {
		for i, c := range m.chains {
			r := pick(c)
			means[i] = r.mean
			vars[i] = r.variance()
		}
		return psrf(means, vars, float64(m.count))
	}

	for r := range m.regulators {
		worst = math.Max(worst, collect(func(c *chain) running { return c.xStats[r] }))
		worst = math.Max(worst, collect(func(c *chain) running { return c.tStats[r] }))
	}
	return worst
}

// psrf computes R-hat from per-chain means and variances of n samples each.
func psrf(means, vars []float64, n float64) float64 {
	w := stat.Mean(vars, nil)
	b := n * stat.Variance(means, nil)

	if w == 0 {
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}

	pooled := (n-1)/n*w + b/n
	return math.Sqrt(pooled / w)
}
