package gc

import "errors"

var (
	errBatchSize  = errors.New("gc: batch size must be positive")
	errWatermarks = errors.New("gc: low watermark must exceed high watermark")
	errMaxBatch   = errors.New("gc: max batch size must be >= batch size")
)
