// Package recognize submits long-running speech recognition jobs and tracks
// them to completion with synthetic progress.
package recognize

import (
	"context"

	"transcript-pipeline/internal/domain"
)

// Handle identifies a submitted recognition operation.
type Handle struct {
	Name string
}

// Backend is a long-running recognition service.
type Backend interface {
	Submit(ctx context.Context, uri string, cfg domain.RecognitionConfig) (Handle, error)
	Poll(ctx context.Context, h Handle) (done bool, err error)
	FetchResult(ctx context.Context, h Handle) (domain.ResultSet, error)
}
