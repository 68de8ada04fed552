package generator

import (
	"context"
	"strings"
)

// Fake is a deterministic in-memory Generator for tests: it tokenizes on
// whitespace and "generates" a fixed reply, one token per stream step,
// each carrying a uniform low-attention tensor over the supplied context.
type Fake struct {
	Reply       []string
	Limit       int
	Layers      int
	Heads       int
	AttentionAt float64
}

// NewFake constructs a Fake with reasonable defaults; reply defaults to a
// three-token fixed response, matching spec.md Scenario A.
func NewFake() *Fake {
	return &Fake{
		Reply:       []string{"Hello", "there", "."},
		Limit:       32000,
		Layers:      2,
		Heads:       4,
		AttentionAt: 0.1,
	}
}

func (f *Fake) Tokenize(ctx context.Context, text string) ([]TokenizedToken, error) {
	words := strings.Fields(text)
	out := make([]TokenizedToken, len(words))
	for i, w := range words {
		out[i] = TokenizedToken{TokenID: fakeTokenID(w), Text: w}
	}
	return out, nil
}

func (f *Fake) GenerateStream(ctx context.Context, params GenerateParams) (<-chan GeneratedToken, <-chan error) {
	out := make(chan GeneratedToken)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		contextLen := len(params.ContextTokens)
		n := len(f.Reply)
		if params.MaxTokens > 0 && params.MaxTokens < n {
			n = params.MaxTokens
		}
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			var attention [][][]float64
			if params.OutputAttentions {
				attention = f.uniformTensor(contextLen + i)
			}
			tok := GeneratedToken{TokenID: fakeTokenID(f.Reply[i]), Text: f.Reply[i], Attention: attention}
			select {
			case out <- tok:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

func (f *Fake) uniformTensor(contextLen int) [][][]float64 {
	if contextLen < 1 {
		contextLen = 1
	}
	t := make([][][]float64, f.Layers)
	for l := range t {
		t[l] = make([][]float64, f.Heads)
		for h := range t[l] {
			t[l][h] = make([]float64, contextLen)
			for c := range t[l][h] {
				t[l][h][c] = f.AttentionAt
			}
		}
	}
	return t
}

func (f *Fake) ContextLimit() int { return f.Limit }

// Preview returns the fixed reply's text without emitting token-by-token,
// satisfying Previewer for tests exercising the preview substitution path.
func (f *Fake) Preview(ctx context.Context, userTokens []int, maxTokens int) (string, error) {
	n := len(f.Reply)
	if maxTokens > 0 && maxTokens < n {
		n = maxTokens
	}
	return strings.Join(f.Reply[:n], " "), nil
}

func fakeTokenID(word string) int {
	h := 0
	for _, r := range word {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}
