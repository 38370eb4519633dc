package wavenet

import (
	"math/rand"
	"sort"

	"github.com/scttfrdmn/local-wavenet/loss"
)

// SampleConfig holds configuration for audio generation sampling.
type SampleConfig struct {
	Temperature float64 // Temperature for sampling (0 = greedy, higher = more random)
	TopK        int     // Top-k sampling (0 = disabled)
	TopP        float64 // Top-p (nucleus) sampling (0 = disabled)
}

// sample picks a class from logits using temperature, top-k, and top-p sampling.
func sample(logits []float64, config SampleConfig, rng *rand.Rand) int {
	if config.Temperature == 0.0 {
		return argmax(logits)
	}

	scaled := make([]float64, len(logits))
	for i, logit := range logits {
		scaled[i] = logit / config.Temperature
	}
	probs := loss.Softmax(scaled)

	if config.TopK > 0 {
		probs = applyTopK(probs, config.TopK)
	}
	if config.TopP > 0.0 && config.TopP < 1.0 {
		probs = applyTopP(probs, config.TopP)
	}

	return sampleFromDistribution(probs, rng)
}

// argmax returns the index of the maximum value, the first one on ties.
func argmax(data []float64) int {
	if len(data) == 0 {
		return -1
	}

	maxIdx := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

type indexedProb struct {
	index int
	prob  float64
}

func sortedByProb(probs []float64) []indexedProb {
	indexed := make([]indexedProb, len(probs))
	for i, p := range probs {
		indexed[i] = indexedProb{i, p}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})
	return indexed
}

// applyTopK keeps the k most likely classes and renormalizes.
func applyTopK(probs []float64, k int) []float64 {
	if k <= 0 || k >= len(probs) {
		return probs
	}

	filtered := make([]float64, len(probs))
	total := 0.0
	for _, item := range sortedByProb(probs)[:k] {
		filtered[item.index] = item.prob
		total += item.prob
	}
	return renormalize(filtered, total)
}

// applyTopP keeps the smallest set of classes whose mass reaches p.
func applyTopP(probs []float64, p float64) []float64 {
	if p <= 0.0 || p >= 1.0 {
		return probs
	}

	filtered := make([]float64, len(probs))
	total := 0.0
	for _, item := range sortedByProb(probs) {
		if total >= p {
			break
		}
		filtered[item.index] = item.prob
		total += item.prob
	}
	return renormalize(filtered, total)
}

func renormalize(probs []float64, total float64) []float64 {
	if total > 0 {
		for i := range probs {
			probs[i] /= total
		}
	}
	return probs
}

// sampleFromDistribution draws an index from a probability distribution.
func sampleFromDistribution(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()

	cum := 0.0
	for i, prob := range probs {
		cum += prob
		if r < cum {
			return i
		}
	}

	// rounding can leave cum just below 1
	return len(probs) - 1
}
