package reassembler

import (
	"math/rand"
	"strings"
	"testing"
)

func TestBuffer_ReorderingInvariant(t *testing.T) {
	fragments := []string{"The ", "quick ", "brown ", "fox ", "jumps"}
	want := strings.Join(fragments, "")

	perms := permutations(len(fragments))
	for _, order := range perms {
		b := New()
		for _, i := range order {
			b.Put(i, fragments[i])
		}
		if got := b.Snapshot(); got != want {
			t.Fatalf("order %v: expected %q, got %q", order, want, got)
		}
	}
}

func TestBuffer_RandomLargeOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 500
	fragments := make([]string, n)
	for i := range fragments {
		fragments[i] = string(rune('a' + i%26))
	}
	want := strings.Join(fragments, "")

	b := New()
	for _, i := range rng.Perm(n) {
		b.Put(i, fragments[i])
	}
	if got := b.Snapshot(); got != want {
		t.Errorf("Expected in-order concatenation after shuffled inserts")
	}
}

func TestBuffer_GapsAreSkipped(t *testing.T) {
	b := New()
	b.Put(0, "a")
	b.Put(2, "c")
	b.Put(7, "h")

	if got := b.Snapshot(); got != "ach" {
		t.Errorf("Expected %q, got %q", "ach", got)
	}
}

func TestBuffer_DuplicateIndexOverwrites(t *testing.T) {
	b := New()
	b.Put(0, "hel")
	b.Put(1, "lo")
	b.Put(1, "lo")
	b.Put(0, "Hel")

	if got := b.Snapshot(); got != "Hello" {
		t.Errorf("Expected %q, got %q", "Hello", got)
	}
	if b.Len() != 2 {
		t.Errorf("Expected 2 fragments, got %d", b.Len())
	}
}

func TestBuffer_NegativeIndexIgnored(t *testing.T) {
	b := New()
	b.Put(-1, "x")
	b.Put(0, "y")

	if got := b.Snapshot(); got != "y" {
		t.Errorf("Expected %q, got %q", "y", got)
	}
}

func TestBuffer_Reset(t *testing.T) {
	b := New()
	b.Put(0, "stale")
	b.Reset()

	if got := b.Snapshot(); got != "" {
		t.Errorf("Expected empty snapshot after reset, got %q", got)
	}
	b.Put(0, "fresh")
	if got := b.Snapshot(); got != "fresh" {
		t.Errorf("Expected %q, got %q", "fresh", got)
	}
}

func permutations(n int) [][]int {
	var out [][]int
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	var permute func(k int)
	permute = func(k int) {
		if k == n {
			out = append(out, append([]int(nil), idx...))
			return
		}
		for i := k; i < n; i++ {
			idx[k], idx[i] = idx[i], idx[k]
			permute(k + 1)
			idx[k], idx[i] = idx[i], idx[k]
		}
	}
	permute(0)
	return out
}
