// ABOUTME: Record source contract shared by the local, mock and AWS providers.
// ABOUTME: A source yields raw Vanta intake records for one converter run.

package providers

import (
	"context"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// RecordSource abstracts where Vanta vulnerability records come from (export file, ECR, generated)
type RecordSource interface {
	Name() string
	ReadRecords(ctx context.Context) ([]types.InputRecord, error)
}
