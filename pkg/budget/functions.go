package budget

import "math"

// Or is the probabilistic sum 1 - (1-a)(1-b).
func Or(a, b float64) float64 {
	return 1 - (1-a)*(1-b)
}

// And is the product a*b.
func And(a, b float64) float64 {
	return a * b
}

// AveGeo is the geometric mean of the arguments (0 for none).
func AveGeo(values ...float64) float64 {
	if len(values) == 0 {
		return 0
	}
	prod := 1.0
	for _, v := range values {
		prod *= v
	}
	return math.Pow(prod, 1/float64(len(values)))
}

// Lerp moves from toward to by t, where t=0 keeps from and t=1 yields to.
func Lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}

// Expectation is the expected frequency of a truth value:
// confidence × (frequency - 0.5) + 0.5.
func Expectation(frequency, confidence float64) float64 {
	return confidence*(frequency-0.5) + 0.5
}

// QualityFromTruth derives budget quality from a truth value. Strongly
// negative statements are still worth something, at three quarters of the
// weight of strongly positive ones.
func QualityFromTruth(frequency, confidence float64) float64 {
	exp := Expectation(clamp(frequency), clamp(confidence))
	return math.Max(exp, (1-exp)*0.75)
}
