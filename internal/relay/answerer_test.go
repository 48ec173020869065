package relay

import (
	"context"
	"strings"
	"testing"
)

func TestSplitWords(t *testing.T) {
	got := SplitWords("  hello   big world ")
	want := []string{"hello ", "big ", "world"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d fragments, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Fragment %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if SplitWords("") == nil || len(SplitWords("")) != 0 {
		t.Error("Expected empty, non-nil slice for empty text")
	}
}

func TestEchoAnswerer(t *testing.T) {
	frags, err := EchoAnswerer{}.Answer(context.Background(), " what is go? ")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if got := strings.Join(frags, ""); got != "You asked: what is go?" {
		t.Errorf("Unexpected answer %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (EchoAnswerer{}).Answer(ctx, "x"); err == nil {
		t.Error("Expected error on cancelled context")
	}
}
