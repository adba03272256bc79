package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/example/okra-classifier/internal/imageprocessor"
)

func TestClassifyBatchReportsPerFileErrors(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubCache{}, Options{})

	items, err := uc.ClassifyBatch(context.Background(), []BatchFile{
		{Filename: "a.png", Data: greenPNG(t)},
		{Filename: "b.png", Data: []byte("garbage")},
		{Filename: "c.png", Data: greenPNG(t)},
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Fatalf("unexpected errors: %v, %v", items[0].Err, items[2].Err)
	}
	if !imageprocessor.IsDecodeError(items[1].Err) || items[1].Classification != nil {
		t.Fatalf("expected decode error for b.png, got %+v", items[1])
	}
	if len(repo.saved) != 2 {
		t.Fatalf("expected 2 saved records, got %d", len(repo.saved))
	}
}

func TestClassifyBatchRejectsTooManyFiles(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, &stubCache{}, Options{MaxBatchFiles: 2})

	files := make([]BatchFile, 3)
	if _, err := uc.ClassifyBatch(context.Background(), files); !errors.Is(err, ErrTooManyFiles) {
		t.Fatalf("expected ErrTooManyFiles, got %v", err)
	}
}

func TestClassifyBatchRejectsEmpty(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, &stubCache{}, Options{})

	if _, err := uc.ClassifyBatch(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}
