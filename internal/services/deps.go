package services

import (
	"time"

	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/room"
)

// Deps is what the room-facing services share. Metrics and Logger may be nil.
type Deps struct {
	Registry *room.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Now = nowOrDefault(d.Now)
	return d
}
