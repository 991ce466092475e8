package tdigest

import (
	"encoding/json"
	"strings"

	"github.com/TFMV/alloctrace/pkg/errors"
	"github.com/TFMV/alloctrace/pkg/heap"
)

// pgDigest is the PostgreSQL text layout: means and weights are padded
// to buckets entries.
type pgDigest struct {
	Buckets int       `json:"buckets"`
	Count   float64   `json:"count"`
	Sum     float64   `json:"sum"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Means   []float64 `json:"means"`
	Weights []float64 `json:"weights"`
}

// FormatForPostgres serializes the digest into the text form used in a
// PostgreSQL INSERT statement.
func (t *TDigest) FormatForPostgres() string {
	pg := pgDigest{
		Buckets: t.maxSize,
		Count:   t.count,
		Sum:     t.sum,
		Min:     t.min,
		Max:     t.max,
		Means:   make([]float64, t.maxSize),
		Weights: make([]float64, t.maxSize),
	}
	if t.count == 0 {
		// min/max are NaN on an empty digest, which JSON cannot carry
		pg.Min, pg.Max = 0, 0
	}
	for i, cent := range t.centroids {
		pg.Means[i] = cent.mean
		pg.Weights[i] = cent.weight
	}

	out, err := json.Marshal(pg)
	if err != nil {
		// Unreachable for finite floats; keep the contract total.
		return "{}"
	}
	return string(out)
}

// FormatForPostgresInto serializes the digest into a caller-owned,
// NUL-terminated block allocated from h. The caller frees the block.
// Returns nil if the allocation fails.
func (t *TDigest) FormatForPostgresInto(h heap.Heap) *heap.Block {
	s := t.FormatForPostgres()
	b := h.Malloc(len(s) + 1)
	if b == nil {
		return nil
	}
	buf := b.Bytes()
	copy(buf, s)
	buf[len(s)] = 0
	return b
}

// ParseForPostgres reads the PostgreSQL text form back into a digest.
// Trailing NUL bytes from a serialized block are accepted.
func ParseForPostgres(s string) (*TDigest, error) {
	s = strings.TrimRight(s, "\x00")
	var pg pgDigest
	if err := json.Unmarshal([]byte(s), &pg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "malformed digest text")
	}

	size := pg.Buckets
	if c := int(pg.Count); c < size {
		size = c
	}
	if size > len(pg.Means) {
		size = len(pg.Means)
	}
	if size > len(pg.Weights) {
		size = len(pg.Weights)
	}
	cents := make([]Centroid, 0, size)
	for i := 0; i < size; i++ {
		if pg.Weights[i] == 0 {
			// Padding past the real centroids.
			break
		}
		cents = append(cents, NewCentroid(pg.Means[i], pg.Weights[i]))
	}
	return New(cents, pg.Sum, pg.Count, pg.Max, pg.Min, pg.Buckets), nil
}
