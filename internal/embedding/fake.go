package embedding

import (
	"context"
	"hash/fnv"
)

// Fake is a deterministic Engine for tests: the same text always embeds to
// the same unit vector. Texts that differ at all, even only in a suffix,
// hash to unrelated vectors, so Query's ranking is exercised only through
// exact-text matches, without a live backend.
type Fake struct {
	Dim int
	Tag string
}

// NewFake returns a Fake embedding engine of the given dimension.
func NewFake(dim int) *Fake {
	if dim <= 0 {
		dim = 8
	}
	return &Fake{Dim: dim, Tag: "fake:v1"}
}

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.Dim)
	h := fnv.New64a()
	for i := range v {
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		sum := h.Sum64()
		v[i] = float32(int64(sum%2000)-1000) / 1000
	}
	return normalize(v), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *Fake) Dimensions() int  { return f.Dim }
func (f *Fake) ModelTag() string { return f.Tag }
