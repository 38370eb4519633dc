// Package audio turns waveforms into the quantized class sequences the
// model trains on and back again.
//
// Samples are companded with the mu-law transform and binned into a fixed
// number of classes, which turns next-sample prediction into a
// classification problem.
package audio

import (
	"math"
)

// MuLawEncode compands x in [-1, 1] with parameter mu. The result is also in [-1, 1].
func MuLawEncode(x float64, mu int) float64 {
	m := float64(mu)
	return sign(x) * math.Log1p(m*math.Abs(x)) / math.Log1p(m)
}

// MuLawExpand inverts MuLawEncode.
func MuLawExpand(y float64, mu int) float64 {
	m := float64(mu)
	return sign(y) * (math.Exp(math.Abs(y)*math.Log1p(m)) - 1) / m
}

// Quantize compands x and assigns it to one of classes equally spaced bins
// spanning [-1, 1]. Values outside [-1, 1] are clamped.
func Quantize(x float64, classes int) int {
	y := MuLawEncode(clamp(x), classes)
	c := int(math.Floor((y + 1) * float64(classes-1) / 2))
	return min(max(c, 0), classes-1)
}

// Dequantize maps a class index back to a waveform value in [-1, 1].
func Dequantize(c int, classes int) float64 {
	y := float64(c)/float64(classes)*2 - 1
	return clamp(MuLawExpand(y, classes))
}

// QuantizeAll quantizes a whole waveform.
func QuantizeAll(samples []float64, classes int) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = Quantize(s, classes)
	}
	return out
}

// DequantizeAll decodes a whole class sequence.
func DequantizeAll(classesSeq []int, classes int) []float64 {
	out := make([]float64, len(classesSeq))
	for i, c := range classesSeq {
		out[i] = Dequantize(c, classes)
	}
	return out
}

// Normalize scales samples so the peak magnitude is 1. Silent input is returned unchanged.
func Normalize(samples []float64) {
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	if peak == 0 {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
