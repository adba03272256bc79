package usecase

import (
	"context"
	"errors"
	"fmt"
)

// ErrTooManyFiles is returned when a batch exceeds MaxBatchFiles.
var ErrTooManyFiles = errors.New("too many files")

// ErrEmptyBatch is returned when a batch carries no files.
var ErrEmptyBatch = errors.New("no files selected")

// BatchFile is one upload of a batch request.
type BatchFile struct {
	Filename string
	Data     []byte
}

// BatchItem is the per-file outcome of a batch. Exactly one of
// Classification and Err is set.
type BatchItem struct {
	Filename       string
	Classification *Classification
	Err            error
}

// ClassifyBatch classifies files in order. A failing file is reported in
// its item and does not stop the rest of the batch.
func (uc *ClassificationUseCase) ClassifyBatch(ctx context.Context, files []BatchFile) ([]BatchItem, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(files) > uc.opts.MaxBatchFiles {
		return nil, fmt.Errorf("%w: maximum %d files allowed", ErrTooManyFiles, uc.opts.MaxBatchFiles)
	}

	items := make([]BatchItem, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		c, err := uc.Classify(ctx, f.Filename, f.Data)
		items = append(items, BatchItem{Filename: f.Filename, Classification: c, Err: err})
	}
	return items, nil
}
