package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/askstream/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestSQLiteStore_QuestionLifecycle(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	q := &domain.Question{ID: "q-1", UserID: "u-1", Text: "what is go?", Status: domain.StatusCreated}
	if err := repo.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}

	got, err := repo.GetQuestion(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if got == nil || got.Text != "what is go?" || got.Answered() {
		t.Fatalf("Expected unanswered question, got %+v", got)
	}
	if got.Status != domain.StatusCreated {
		t.Errorf("Expected status created, got %s", got.Status)
	}

	if err := repo.UpdateStatus(ctx, "q-1", domain.StatusAnswering); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := repo.CompleteQuestion(ctx, "q-1", "a language", domain.StatusComplete); err != nil {
		t.Fatalf("CompleteQuestion failed: %v", err)
	}

	got, err = repo.GetQuestion(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if !got.Answered() || *got.Answer != "a language" || got.Status != domain.StatusComplete {
		t.Errorf("Expected completed answer, got %+v", got)
	}
}

func TestSQLiteStore_DuplicateCreateKeepsFirst(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateQuestion(ctx, &domain.Question{ID: "dup", UserID: "u", Text: "first"}); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}
	if err := repo.CreateQuestion(ctx, &domain.Question{ID: "dup", UserID: "u", Text: "second"}); err != nil {
		t.Fatalf("Duplicate CreateQuestion failed: %v", err)
	}
	got, _ := repo.GetQuestion(ctx, "dup")
	if got.Text != "first" {
		t.Errorf("Expected first record kept, got %q", got.Text)
	}
}

func TestSQLiteStore_Missing(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetQuestion(ctx, "nope")
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil for missing question, got %+v, %v", got, err)
	}
	if err := repo.CompleteQuestion(ctx, "nope", "x", domain.StatusComplete); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CountAndRetention(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []*domain.Question{
		{ID: "old", UserID: "u-1", Text: "a", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "new-1", UserID: "u-1", Text: "b", CreatedAt: now.Add(-time.Minute)},
		{ID: "new-2", UserID: "u-1", Text: "c", CreatedAt: now},
		{ID: "other", UserID: "u-2", Text: "d", CreatedAt: now},
	}
	for _, q := range seed {
		if err := repo.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("CreateQuestion(%s) failed: %v", q.ID, err)
		}
	}

	n, err := repo.CountQuestionsSince(ctx, "u-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountQuestionsSince failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 recent questions for u-1, got %d", n)
	}

	sweepExpired(ctx, repo, now.Add(-24*time.Hour))

	if got, _ := repo.GetQuestion(ctx, "old"); got != nil {
		t.Error("Expected old question to be removed by retention sweep")
	}
	if got, _ := repo.GetQuestion(ctx, "new-1"); got == nil {
		t.Error("Expected recent question to survive retention sweep")
	}
}

func TestRetentionWorker_StopsOnCancel(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	past := time.Now().Add(-time.Hour)
	if err := repo.CreateQuestion(ctx, &domain.Question{ID: "stale", UserID: "u", Text: "x", CreatedAt: past}); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}

	startRetentionWorker(ctx, repo, time.Minute, 10*time.Millisecond, time.Now)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := repo.GetQuestion(context.Background(), "stale"); got == nil {
			cancel()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("Expected retention worker to delete the stale question")
}
