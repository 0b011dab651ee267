package domain

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver copies the full bid history of a finished auction to cold storage.
type Archiver interface {
	ArchiveAuction(ctx context.Context, auctionID uuid.UUID) (int, error)
}
