package ornor

import "math"

// likelihood holds log P(observed | predicted) for the noisy observation channel.
// Rows are indexed by predicted state + 1, columns by observed state + 1.
type likelihood [3][3]float64

func newLikelihood(zy, zn, sLeniency float64) likelihood {
	zy, zn, sLeniency = clamp(zy), clamp(zn), clamp(sLeniency)

	var l likelihood
	// predicted 0: a change is observed with probability zn, split evenly by sign
	l[1] = [3]float64{math.Log(zn / 2), math.Log(1 - zn), math.Log(zn / 2)}
	// predicted ±1: observed as predicted with probability zy; the rest is mostly
	// "no change", with s_leniency of it going to the opposite sign
	same := math.Log(zy)
	flip := math.Log((1 - zy) * sLeniency)
	none := math.Log((1 - zy) * (1 - sLeniency))
	l[0] = [3]float64{same, none, flip}
	l[2] = [3]float64{flip, none, same}
	return l
}

func (l likelihood) log(observed, predicted int) float64 {
	return l[predicted+1][observed+1]
}
