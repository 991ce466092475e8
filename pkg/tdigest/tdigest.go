// Package tdigest implements the merging t-digest: a compact summary
// of a value distribution supporting accurate quantile estimation at
// the tails. Digests are immutable; all mutation goes through Builder.
package tdigest

import (
	"math"
	"sort"
)

// DefaultMaxSize is the digest size used when none is given.
const DefaultMaxSize = 100

// Centroid is one cluster of the digest: a mean and the weight of the
// points merged into it.
type Centroid struct {
	mean   float64
	weight float64
}

// NewCentroid creates a centroid with the given mean and weight.
func NewCentroid(mean, weight float64) Centroid {
	return Centroid{mean: mean, weight: weight}
}

// Mean returns the centroid mean.
func (c Centroid) Mean() float64 { return c.mean }

// Weight returns the centroid weight.
func (c Centroid) Weight() float64 { return c.weight }

// add folds (sum, weight) into the centroid and returns the combined
// sum so the caller can accumulate the digest total in one pass.
func (c *Centroid) add(sum, weight float64) float64 {
	newSum := sum + c.weight*c.mean
	newWeight := c.weight + weight
	c.weight = newWeight
	c.mean = newSum / newWeight
	return newSum
}

// TDigest is an immutable digest of max_size centroids.
type TDigest struct {
	centroids []Centroid
	maxSize   int
	sum       float64
	count     float64
	max       float64
	min       float64
}

// NewWithSize creates an empty digest with the given maximum number of
// centroids. Non-positive sizes fall back to DefaultMaxSize.
func NewWithSize(maxSize int) *TDigest {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &TDigest{
		maxSize: maxSize,
		max:     math.NaN(),
		min:     math.NaN(),
	}
}

// New assembles a digest from parts. If there are more centroids than
// maxSize allows, they are re-compressed through a merge.
func New(centroids []Centroid, sum, count, max, min float64, maxSize int) *TDigest {
	if len(centroids) <= maxSize {
		return &TDigest{
			centroids: centroids,
			maxSize:   maxSize,
			sum:       sum,
			count:     count,
			max:       max,
			min:       min,
		}
	}
	oversized := &TDigest{
		centroids: centroids,
		maxSize:   len(centroids),
		sum:       sum,
		count:     count,
		max:       max,
		min:       min,
	}
	return MergeDigests([]*TDigest{NewWithSize(maxSize), oversized})
}

// Centroids returns the digest's centroids.
func (t *TDigest) Centroids() []Centroid { return t.centroids }

// Mean returns the mean of the digested values.
func (t *TDigest) Mean() float64 {
	if t.count > 0 {
		return t.sum / t.count
	}
	return 0
}

// Sum returns the sum of the digested values.
func (t *TDigest) Sum() float64 { return t.sum }

// Count returns the number of digested values.
func (t *TDigest) Count() float64 { return t.count }

// Max returns the largest digested value, NaN when empty.
func (t *TDigest) Max() float64 { return t.max }

// Min returns the smallest digested value, NaN when empty.
func (t *TDigest) Min() float64 { return t.min }

// IsEmpty reports whether the digest holds no centroids.
func (t *TDigest) IsEmpty() bool { return len(t.centroids) == 0 }

// MaxSize returns the maximum number of centroids.
func (t *TDigest) MaxSize() int { return t.maxSize }

// Clone returns a copy of the digest.
func (t *TDigest) Clone() *TDigest {
	cents := make([]Centroid, len(t.centroids))
	copy(cents, t.centroids)
	out := *t
	out.centroids = cents
	return &out
}

// kToQ is the scale function: it maps the k-th centroid boundary to a
// quantile, concentrating resolution at the tails.
func kToQ(k, d float64) float64 {
	kDivD := k / d
	if kDivD >= 0.5 {
		base := 1.0 - kDivD
		return 1.0 - 2.0*base*base
	}
	return 2.0 * kDivD * kDivD
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// MergeUnsorted returns a new digest with the given values folded in.
func (t *TDigest) MergeUnsorted(values []float64) *TDigest {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return t.MergeSorted(sorted)
}

// MergeSorted returns a new digest with the given ascending values
// folded in.
func (t *TDigest) MergeSorted(sorted []float64) *TDigest {
	if len(sorted) == 0 {
		return t.Clone()
	}

	result := NewWithSize(t.maxSize)
	result.count = t.count + float64(len(sorted))

	maybeMin := sorted[0]
	maybeMax := sorted[len(sorted)-1]
	if t.count > 0 {
		result.min = math.Min(t.min, maybeMin)
		result.max = math.Max(t.max, maybeMax)
	} else {
		result.min = maybeMin
		result.max = maybeMax
	}

	compressed := make([]Centroid, 0, t.maxSize)

	kLimit := 1.0
	qLimitTimesCount := kToQ(kLimit, float64(t.maxSize)) * result.count
	kLimit++

	ci, vi := 0, 0
	next := func() Centroid {
		if ci < len(t.centroids) && (vi >= len(sorted) || t.centroids[ci].mean < sorted[vi]) {
			c := t.centroids[ci]
			ci++
			return c
		}
		c := Centroid{mean: sorted[vi], weight: 1}
		vi++
		return c
	}

	curr := next()
	weightSoFar := curr.weight
	sumsToMerge := 0.0
	weightsToMerge := 0.0

	for ci < len(t.centroids) || vi < len(sorted) {
		n := next()
		nextSum := n.mean * n.weight
		weightSoFar += n.weight

		if weightSoFar <= qLimitTimesCount {
			sumsToMerge += nextSum
			weightsToMerge += n.weight
		} else {
			result.sum += curr.add(sumsToMerge, weightsToMerge)
			sumsToMerge = 0
			weightsToMerge = 0
			compressed = append(compressed, curr)
			qLimitTimesCount = kToQ(kLimit, float64(t.maxSize)) * result.count
			kLimit++
			curr = n
		}
	}

	result.sum += curr.add(sumsToMerge, weightsToMerge)
	compressed = append(compressed, curr)
	sort.Slice(compressed, func(i, j int) bool { return compressed[i].mean < compressed[j].mean })

	result.centroids = compressed
	return result
}

// MergeDigests merges multiple digests into one sized like the first
// non-trivial input.
func MergeDigests(digests []*TDigest) *TDigest {
	nCentroids := 0
	for _, d := range digests {
		nCentroids += len(d.centroids)
	}
	if nCentroids == 0 {
		return NewWithSize(DefaultMaxSize)
	}

	maxSize := digests[0].maxSize
	centroids := make([]Centroid, 0, nCentroids)

	count := 0.0
	min := math.Inf(1)
	max := math.Inf(-1)

	for _, d := range digests {
		if d.count > 0 {
			min = math.Min(min, d.min)
			max = math.Max(max, d.max)
			count += d.count
			centroids = append(centroids, d.centroids...)
		}
	}
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].mean < centroids[j].mean })

	result := NewWithSize(maxSize)
	compressed := make([]Centroid, 0, maxSize)

	kLimit := 1.0
	qLimitTimesCount := kToQ(kLimit, float64(maxSize)) * count

	curr := centroids[0]
	weightSoFar := curr.weight
	sumsToMerge := 0.0
	weightsToMerge := 0.0

	for _, centroid := range centroids[1:] {
		weightSoFar += centroid.weight

		if weightSoFar <= qLimitTimesCount {
			sumsToMerge += centroid.mean * centroid.weight
			weightsToMerge += centroid.weight
		} else {
			result.sum += curr.add(sumsToMerge, weightsToMerge)
			sumsToMerge = 0
			weightsToMerge = 0
			compressed = append(compressed, curr)
			qLimitTimesCount = kToQ(kLimit, float64(maxSize)) * count
			kLimit++
			curr = centroid
		}
	}

	result.sum += curr.add(sumsToMerge, weightsToMerge)
	compressed = append(compressed, curr)
	sort.Slice(compressed, func(i, j int) bool { return compressed[i].mean < compressed[j].mean })

	result.count = count
	result.min = min
	result.max = max
	result.centroids = compressed
	return result
}

// QuantileAtValue estimates the quantile a value sits at.
func (t *TDigest) QuantileAtValue(v float64) float64 {
	if len(t.centroids) == 0 {
		return 0
	}
	if v < t.min {
		return 0
	}
	if v > t.max {
		return 1
	}

	lowBound := t.min
	lowWeight := 0.0
	hiBound := t.max
	hiWeight := 0.0
	accumWeight := 0.0

	for _, cent := range t.centroids {
		if v < cent.mean {
			hiBound = cent.mean
			hiWeight = cent.weight
			break
		}
		lowBound = cent.mean
		lowWeight = cent.weight
		accumWeight += lowWeight
	}

	weightedMidpoint := lowBound + (hiBound-lowBound)*lowWeight/(lowWeight+hiWeight)
	if v > weightedMidpoint {
		return (accumWeight + (v-weightedMidpoint)/(hiBound-weightedMidpoint)*hiWeight/2.0) / t.count
	}
	return (accumWeight - (weightedMidpoint-v)/(weightedMidpoint-lowBound)*lowWeight/2.0) / t.count
}

// Quantile estimates the value located at quantile q.
func (t *TDigest) Quantile(q float64) float64 {
	if len(t.centroids) == 0 {
		return 0
	}

	rank := q * t.count

	var pos int
	var cum float64
	if q > 0.5 {
		if q >= 1.0 {
			return t.max
		}

		pos = 0
		cum = t.count
		for k := len(t.centroids) - 1; k >= 0; k-- {
			cum -= t.centroids[k].weight
			if rank >= cum {
				pos = k
				break
			}
		}
	} else {
		if q <= 0.0 {
			return t.min
		}

		pos = len(t.centroids) - 1
		cum = 0
		for k, centroid := range t.centroids {
			if rank < cum+centroid.weight {
				pos = k
				break
			}
			cum += centroid.weight
		}
	}

	delta := 0.0
	min := t.min
	max := t.max
	if len(t.centroids) > 1 {
		switch {
		case pos == 0:
			delta = t.centroids[pos+1].mean - t.centroids[pos].mean
			max = t.centroids[pos+1].mean
		case pos == len(t.centroids)-1:
			delta = t.centroids[pos].mean - t.centroids[pos-1].mean
			min = t.centroids[pos-1].mean
		default:
			delta = (t.centroids[pos+1].mean - t.centroids[pos-1].mean) / 2.0
			min = t.centroids[pos-1].mean
			max = t.centroids[pos+1].mean
		}
	}

	value := t.centroids[pos].mean + ((rank-cum)/t.centroids[pos].weight-0.5)*delta
	return clamp(value, min, max)
}
