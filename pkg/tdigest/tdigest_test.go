package tdigest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// relErr is the relative error between an estimate and its expected value.
func relErr(expected, actual float64) float64 {
	return math.Abs(expected-actual) / expected
}

func TestCentroidAdditionRegression(t *testing.T) {
	vals := []float64{1.0, 1.0, 1.0, 2.0, 1.0, 1.0}
	td := NewWithSize(10)

	for _, v := range vals {
		td = td.MergeUnsorted([]float64{v})
	}

	assert.Less(t, relErr(1.0, td.Quantile(0.5)), 0.01)
	assert.Less(t, relErr(2.0, td.Quantile(0.95)), 0.01)
}

func TestMergeSortedUniform(t *testing.T) {
	values := make([]float64, 1_000_000)
	for i := range values {
		values[i] = float64(i + 1)
	}

	td := NewWithSize(100).MergeSorted(values)

	assert.Less(t, relErr(1_000_000, td.Quantile(1.0)), 0.01)
	assert.Less(t, relErr(990_000, td.Quantile(0.99)), 0.01)
	assert.Less(t, relErr(10_000, td.Quantile(0.01)), 0.01)
	assert.Less(t, relErr(1.0, td.Quantile(0.0)), 0.01)
	assert.Less(t, relErr(500_000, td.Quantile(0.5)), 0.01)
}

func TestMergeUnsortedUniform(t *testing.T) {
	values := make([]float64, 1_000_000)
	for i := range values {
		values[i] = float64(len(values) - i)
	}

	td := NewWithSize(100).MergeUnsorted(values)

	assert.Less(t, relErr(1_000_000, td.Quantile(1.0)), 0.01)
	assert.Less(t, relErr(990_000, td.Quantile(0.99)), 0.01)
	assert.Less(t, relErr(10_000, td.Quantile(0.01)), 0.01)
	assert.Less(t, relErr(1.0, td.Quantile(0.0)), 0.01)
	assert.Less(t, relErr(500_000, td.Quantile(0.5)), 0.01)
}

func TestMergeSortedSkewed(t *testing.T) {
	values := make([]float64, 0, 1_000_000)
	for i := 1; i <= 600_000; i++ {
		values = append(values, float64(i))
	}
	for i := 0; i < 400_000; i++ {
		values = append(values, 1_000_000.0)
	}

	td := NewWithSize(100).MergeSorted(values)

	assert.Less(t, relErr(1_000_000, td.Quantile(0.99)), 0.01)
	assert.Less(t, relErr(10_000, td.Quantile(0.01)), 0.01)
	assert.Less(t, relErr(500_000, td.Quantile(0.5)), 0.01)
}

func TestMergeDigests(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i + 1)
	}

	digests := make([]*TDigest, 0, 100)
	for i := 0; i < 100; i++ {
		digests = append(digests, NewWithSize(100).MergeSorted(values))
	}

	td := MergeDigests(digests)

	assert.Less(t, relErr(1000, td.Quantile(1.0)), 0.01)
	assert.Less(t, relErr(990, td.Quantile(0.99)), 0.01)
	assert.Less(t, relErr(10, td.Quantile(0.01)), 0.2)
	assert.Less(t, relErr(1.0, td.Quantile(0.0)), 0.01)
	assert.Less(t, relErr(500, td.Quantile(0.5)), 0.01)
}

func TestQuantileAndValueEstimates(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = float64(i+1) / 100.0
	}

	td := NewWithSize(100).MergeSorted(values)

	for i := 1; i <= 100; i++ {
		value := float64(i)
		quantile := value / 100.0

		testValue := td.Quantile(quantile)
		testQuant := td.QuantileAtValue(value)

		assert.Lessf(t, relErr(value, testValue), 0.01,
			"quantile %v: expected %v, received %v", quantile, value, testValue)
		assert.Lessf(t, relErr(quantile, testQuant), 0.01,
			"quantile at value %v: expected %v, received %v", value, quantile, testQuant)

		roundTrip := td.QuantileAtValue(td.Quantile(quantile))
		assert.Less(t, relErr(quantile, roundTrip), 0.001)
	}
}

func TestEmptyDigest(t *testing.T) {
	td := NewWithSize(100)

	assert.True(t, td.IsEmpty())
	assert.Zero(t, td.Count())
	assert.Zero(t, td.Quantile(0.5))
	assert.Zero(t, td.QuantileAtValue(10))
	assert.Zero(t, td.Mean())
	assert.True(t, math.IsNaN(td.Min()))
	assert.True(t, math.IsNaN(td.Max()))
}

func TestDigestStats(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	td := NewWithSize(100).MergeSorted(values)

	assert.Equal(t, 5.0, td.Count())
	assert.Equal(t, 15.0, td.Sum())
	assert.Equal(t, 3.0, td.Mean())
	assert.Equal(t, 1.0, td.Min())
	assert.Equal(t, 5.0, td.Max())
	assert.Equal(t, 100, td.MaxSize())
	assert.False(t, td.IsEmpty())
}

func TestCompressionBound(t *testing.T) {
	values := make([]float64, 100_000)
	for i := range values {
		values[i] = float64(i + 1)
	}

	td := NewWithSize(100).MergeSorted(values)

	// The digest stays compact no matter how many values went in.
	assert.LessOrEqual(t, len(td.Centroids()), 2*td.MaxSize())
}

func TestNewRecompressesOversizedInput(t *testing.T) {
	cents := make([]Centroid, 500)
	sum := 0.0
	for i := range cents {
		cents[i] = NewCentroid(float64(i+1), 1)
		sum += float64(i + 1)
	}

	td := New(cents, sum, 500, 500, 1, 100)

	assert.LessOrEqual(t, len(td.Centroids()), 200)
	assert.Equal(t, 500.0, td.Count())
	assert.Less(t, relErr(250, td.Quantile(0.5)), 0.05)
}
