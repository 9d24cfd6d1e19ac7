package testutil

import (
	"context"
	"math"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

func TestMockLLMPatternMatching(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockLLM("fallback answer")
	mock.AddResponse("bandung", `{"mentions":[]}`)
	model := mock.RegisterModel(g)

	resp, err := model.Generate(context.Background(), &ai.ModelRequest{
		Messages: []*ai.Message{ai.NewUserTextMessage("How many projects in Bandung?")},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != `{"mentions":[]}` {
		t.Errorf("got %q", resp.Text())
	}

	resp, err = model.Generate(context.Background(), &ai.ModelRequest{
		Messages: []*ai.Message{ai.NewUserTextMessage("unrelated")},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "fallback answer" {
		t.Errorf("got %q, want fallback", resp.Text())
	}

	if calls := mock.Calls(); len(calls) != 2 {
		t.Errorf("got %d recorded calls, want 2", len(calls))
	}
}

func TestMockLLMUsage(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := NewMockLLM("ok")
	mock.SetUsage(&ai.GenerationUsage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10})
	model := mock.RegisterModel(g)

	resp, err := model.Generate(context.Background(), &ai.ModelRequest{
		Messages: []*ai.Message{ai.NewUserTextMessage("q")},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
		t.Errorf("usage not reported: %+v", resp.Usage)
	}
}

func TestMockEmbedderDeterminism(t *testing.T) {
	a := deterministicVector("same content", 16)
	b := deterministicVector("same content", 16)
	c := deterministicVector("different content", 16)

	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same content must embed identically")
		}
	}

	var equal = true
	for i := range a {
		if a[i] != c[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Error("different content should embed differently")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("vector norm = %v, want 1", math.Sqrt(norm))
	}
}
