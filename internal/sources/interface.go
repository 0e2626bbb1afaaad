package sources

import (
	"context"

	"github.com/snfwatch/billwatch/internal/models"
)

// Source interface defines the contract for bill document feeds
type Source interface {
	GetName() string
	IsEnabled() bool
	TrackedBills(ctx context.Context) ([]models.BillMetadata, error)
	FetchDocument(ctx context.Context, bill models.BillMetadata) (*models.BillDocument, error)
}
