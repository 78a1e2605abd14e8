package dedup

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/kirillkom/winnow/internal/core/domain"
)

const (
	signatureSize = 128
	shingleWords  = 5
)

// Detector finds near-identical chunks within one ingest batch using MinHash
// signatures over word shingles. Two spans whose signatures agree on at least
// threshold of the positions are duplicates; the later occurrence is dropped.
// Batches are per document, so the pairwise scan over kept signatures is fine.
type Detector struct {
	threshold float64
	seeds     []uint64
}

func NewDetector(threshold float64) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}
	return &Detector{
		threshold: threshold,
		seeds:     newSeeds(signatureSize),
	}
}

func (d *Detector) Duplicates(spans []domain.ChunkSpan) []int {
	if len(spans) < 2 {
		return nil
	}

	sigs := make([][]uint64, len(spans))
	for i, span := range spans {
		sigs[i] = d.signature(span.Text)
	}

	var drops []int
	kept := make([]int, 0, len(spans))
	for i := range spans {
		dup := false
		for _, j := range kept {
			if similarity(sigs[i], sigs[j]) >= d.threshold {
				dup = true
				break
			}
		}
		if dup {
			drops = append(drops, i)
			continue
		}
		kept = append(kept, i)
	}
	return drops
}

func (d *Detector) signature(text string) []uint64 {
	sig := make([]uint64, len(d.seeds))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, sh := range shingle(tokenizeAlphaNum(text), shingleWords) {
		base := hashShingle(sh)
		for i, seed := range d.seeds {
			if v := mix(base ^ seed); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func similarity(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	match := 0
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(len(a))
}

// shingle slides a window of n tokens over the stream. Streams shorter than
// one window collapse to a single shingle.
func shingle(tokens []string, n int) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= n {
		return [][]string{tokens}
	}
	out := make([][]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, tokens[i:i+n])
	}
	return out
}

func hashShingle(tokens []string) uint64 {
	h := fnv.New64a()
	for _, tok := range tokens {
		_, _ = h.Write([]byte(tok))
		_, _ = h.Write([]byte{0x1f})
	}
	return h.Sum64()
}

func newSeeds(n int) []uint64 {
	seeds := make([]uint64, n)
	state := uint64(0x51e03cfd)
	for i := range seeds {
		state += 0x9e3779b97f4a7c15
		seeds[i] = mix(state)
	}
	return seeds
}

// mix is the splitmix64 finalizer, used both to derive seeds and to simulate
// one hash permutation per seed.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
