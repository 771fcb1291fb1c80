package report

import (
	"crypto/rand"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
)

// Builder constructs per-token saliency reports from learned noise scales
type Builder struct {
	entropy *ulid.MonotonicEntropy
}

// New creates a new report builder
func New() *Builder {
	return &Builder{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// TokenScore is one token's entry in a report.
type TokenScore struct {
	Index    int
	Word     string  // empty when no labels were supplied
	Sigma    float64 // learned noise tolerance
	Saliency float64 // 0..1, larger = more informative
}

// Report is a presentation-layer view of a finished interpretation run.
// It lives outside the optimization core: the core's contract ends at the
// σ vector, and everything here is derived from it.
type Report struct {
	ID        string
	CreatedAt time.Time
	Tokens    []TokenScore // input order
}

// Build converts learned noise scales into a report. words may be nil;
// when present it must align index-for-index with sigma.
//
// Saliency inverts and normalizes log σ: the token with the smallest noise
// tolerance gets 1, the token with the largest gets 0. When every σ is
// equal no token stands out and all saliencies are 0.
func (b *Builder) Build(words []string, sigma []float64) (Report, error) {
	if len(sigma) == 0 {
		return Report{}, fmt.Errorf("%w: empty sigma", internalerr.ErrInvalidInput)
	}
	if words != nil && len(words) != len(sigma) {
		return Report{}, fmt.Errorf("%w: %d words for %d sigma entries",
			internalerr.ErrInvalidInput, len(words), len(sigma))
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range sigma {
		if s <= 0 {
			return Report{}, fmt.Errorf("%w: non-positive sigma %g", internalerr.ErrInvalidInput, s)
		}
		l := math.Log(s)
		lo = math.Min(lo, l)
		hi = math.Max(hi, l)
	}

	tokens := make([]TokenScore, len(sigma))
	for i, s := range sigma {
		ts := TokenScore{Index: i, Sigma: s}
		if words != nil {
			ts.Word = words[i]
		}
		if hi > lo {
			ts.Saliency = (hi - math.Log(s)) / (hi - lo)
		}
		tokens[i] = ts
	}

	return Report{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String(),
		CreatedAt: time.Now().UTC(),
		Tokens:    tokens,
	}, nil
}

// Ranked returns the tokens ordered by descending saliency, ties broken by
// input order.
func (r Report) Ranked() []TokenScore {
	out := make([]TokenScore, len(r.Tokens))
	copy(out, r.Tokens)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Saliency > out[j].Saliency
	})
	return out
}

const barWidth = 40

// Render draws a terminal bar chart of per-token saliency in input order.
func (r Report) Render() string {
	wordWidth := 5
	for _, t := range r.Tokens {
		if len(t.Word) > wordWidth {
			wordWidth = len(t.Word)
		}
	}

	var b strings.Builder
	for _, t := range r.Tokens {
		label := t.Word
		if label == "" {
			label = fmt.Sprintf("#%d", t.Index)
		}
		filled := int(math.Round(t.Saliency * barWidth))
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		fmt.Fprintf(&b, "%-*s %s %.3f (σ=%.4g)\n", wordWidth, label, bar, t.Saliency, t.Sigma)
	}
	return b.String()
}
