// Package reassembler rebuilds an answer from indexed fragments that may
// arrive out of order, duplicated, or with gaps.
package reassembler

import (
	"slices"
	"strings"
)

// Buffer maps fragment index to text for the active exchange.
// It is not safe for concurrent use; the session loop owns it.
type Buffer struct {
	slots map[int]string
	size  int // bytes across all slots
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{slots: make(map[int]string)}
}

// Reset clears all fragments.
func (b *Buffer) Reset() {
	clear(b.slots)
	b.size = 0
}

// Put stores text at index, overwriting any previous fragment there.
// Negative indices are ignored.
func (b *Buffer) Put(index int, text string) {
	if index < 0 {
		return
	}
	if prev, ok := b.slots[index]; ok {
		b.size -= len(prev)
	}
	b.slots[index] = text
	b.size += len(text)
}

// Snapshot concatenates fragments in index order, skipping missing slots.
func (b *Buffer) Snapshot() string {
	if len(b.slots) == 0 {
		return ""
	}
	indices := make([]int, 0, len(b.slots))
	for i := range b.slots {
		indices = append(indices, i)
	}
	slices.Sort(indices)

	var sb strings.Builder
	sb.Grow(b.size)
	for _, i := range indices {
		sb.WriteString(b.slots[i])
	}
	return sb.String()
}

// Len returns the number of stored fragments.
func (b *Buffer) Len() int {
	return len(b.slots)
}
