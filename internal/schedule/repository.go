package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlockNotFound     = errors.New("schedule block not found")
	ErrExceptionNotFound = errors.New("schedule exception not found")
)

// Store is the schedule persistence the core depends on.
type Store interface {
	// ListBlocks returns blocks ordered by start time.
	ListBlocks(ctx context.Context, f BlockFilter) ([]Block, error)
	GetBlock(ctx context.Context, id uuid.UUID) (*Block, error)
	CreateBlock(ctx context.Context, b *Block) error
	// DeleteBlock returns the removed block.
	DeleteBlock(ctx context.Context, id uuid.UUID) (*Block, error)

	// ListExceptions returns a doctor's exceptions with from <= date <= to.
	ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Exception, error)
	CreateException(ctx context.Context, e *Exception) error
	// DeleteException returns the removed exception.
	DeleteException(ctx context.Context, id uuid.UUID) (*Exception, error)
}
