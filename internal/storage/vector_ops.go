package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dshills/omengrep/pkg/types"
)

// rrfK is the reciprocal-rank fusion constant
const rrfK = 60

var errCorruptBlob = errors.New("corrupt token blob")

// EncodeAll and DecodeAll are safe for concurrent use on shared instances
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodeMatrix serializes rows as a rows/dim header followed by
// little-endian float32 values, compressed with zstd
func encodeMatrix(m types.Matrix) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	rows, dim := m.Rows(), m.Dim()
	raw := make([]byte, 8+rows*dim*4)
	binary.LittleEndian.PutUint32(raw[0:], uint32(rows))
	binary.LittleEndian.PutUint32(raw[4:], uint32(dim))
	off := 8
	for _, row := range m {
		for _, v := range row {
			binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(v))
			off += 4
		}
	}
	return blobEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decodeMatrix(blob []byte) (types.Matrix, error) {
	raw, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptBlob, err)
	}
	if len(raw) < 8 {
		return nil, errCorruptBlob
	}
	rows := int(binary.LittleEndian.Uint32(raw[0:]))
	dim := int(binary.LittleEndian.Uint32(raw[4:]))
	if len(raw) != 8+rows*dim*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", errCorruptBlob, len(raw), rows, dim)
	}

	values := make([]float32, rows*dim)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[8+i*4:]))
	}
	m := make(types.Matrix, rows)
	for i := range m {
		m[i] = values[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return m, nil
}

// maxSim scores a document against a query late-interaction style: every
// query row takes its best dot product over the document rows, and the sum
// is averaged over the query rows. Rows are unit length, so the score lies
// in [-1, 1].
func maxSim(query, doc types.Matrix) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	var total float64
	for _, q := range query {
		best := math.Inf(-1)
		for _, d := range doc {
			if s := dot(q, d); s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(query))
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return float64(sum)
}

// candidate represents a block with its score
type candidate struct {
	id    string
	score float64
}

// sortCandidates orders by score descending, then id for determinism
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// fuseRanks combines ranked id lists with reciprocal-rank fusion
func fuseRanks(lists ...[]string) []candidate {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	out := make([]candidate, 0, len(scores))
	for id, s := range scores {
		out = append(out, candidate{id: id, score: s})
	}
	sortCandidates(out)
	return out
}

var ftsTermPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// sanitizeFTSQuery turns free text into an FTS5 expression that matches any
// of its words. Every term is quoted, so FTS5 operators and syntax in the
// input are treated as plain words. Returns "" when nothing is searchable.
func sanitizeFTSQuery(query string) string {
	terms := ftsTermPattern.FindAllString(query, -1)
	if len(terms) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
