package ports

import (
	"context"
	"garage-bridge/internal/domain/model"
)

type ConfigRepository interface {
	Get(ctx context.Context) (*model.Config, error)
}
