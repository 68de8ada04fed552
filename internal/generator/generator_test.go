package generator

import (
	"context"
	"testing"
)

func TestFakeTokenizeSplitsOnWhitespace(t *testing.T) {
	f := NewFake()
	toks, err := f.Tokenize(context.Background(), "hello there world")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(toks))
	}
	if toks[0].Text != "hello" || toks[2].Text != "world" {
		t.Errorf("unexpected token texts: %+v", toks)
	}
}

func TestFakeGenerateStreamEmitsConfiguredReply(t *testing.T) {
	f := NewFake()
	out, errc := f.GenerateStream(context.Background(), GenerateParams{ContextTokens: []int{1, 2, 3}, OutputAttentions: true})

	var got []GeneratedToken
	for tok := range out {
		got = append(got, tok)
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(got) != len(f.Reply) {
		t.Fatalf("expected %d tokens, got %d", len(f.Reply), len(got))
	}
	for i, tok := range got {
		if tok.Text != f.Reply[i] {
			t.Errorf("token %d: expected %q, got %q", i, f.Reply[i], tok.Text)
		}
		if len(tok.Attention) != f.Layers || len(tok.Attention[0]) != f.Heads {
			t.Errorf("token %d: expected attention shape [%d][%d], got [%d][%d]", i, f.Layers, f.Heads, len(tok.Attention), len(tok.Attention[0]))
		}
	}
}

func TestFakeGenerateStreamOmitsAttentionWhenNotRequested(t *testing.T) {
	f := NewFake()
	out, errc := f.GenerateStream(context.Background(), GenerateParams{OutputAttentions: false})
	for tok := range out {
		if tok.Attention != nil {
			t.Error("expected nil attention when OutputAttentions is false")
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
}

func TestFakeGenerateStreamRespectsMaxTokens(t *testing.T) {
	f := NewFake()
	out, _ := f.GenerateStream(context.Background(), GenerateParams{MaxTokens: 1})
	count := 0
	for range out {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly 1 token with MaxTokens=1, got %d", count)
	}
}

func TestFakeGenerateStreamStopsOnCancel(t *testing.T) {
	f := NewFake()
	f.Reply = []string{"a", "b", "c", "d", "e"}
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := f.GenerateStream(ctx, GenerateParams{})

	<-out
	cancel()

	for range out {
	}
	if err := <-errc; err == nil {
		t.Error("expected a cancellation error on the error channel")
	}
}

func TestFakePreviewTruncatesToMaxTokens(t *testing.T) {
	f := NewFake()
	preview, err := f.Preview(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview != "Hello there" {
		t.Errorf("expected truncated preview %q, got %q", "Hello there", preview)
	}
}

func TestFakeSatisfiesGeneratorAndPreviewer(t *testing.T) {
	var _ Generator = (*Fake)(nil)
	var _ Previewer = (*Fake)(nil)
}
