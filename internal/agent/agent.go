// Package agent collects host traffic and storage figures and pushes them
// to a komandorr server.
package agent

import (
	"context"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/scheduler"
)

// Collector produces one update per call.
type Collector[T any] interface {
	Collect(ctx context.Context) (T, error)
}

// Agent pairs a collector with the endpoint its updates go to.
type Agent[T any] struct {
	name      string
	path      string
	collector Collector[T]
	pusher    *Pusher
	logger    logger.Logger
}

func NewTrafficAgent(c Collector[domain.TrafficUpdate], p *Pusher, log logger.Logger) *Agent[domain.TrafficUpdate] {
	return &Agent[domain.TrafficUpdate]{name: "traffic", path: TrafficPath, collector: c, pusher: p, logger: log}
}

func NewStorageAgent(c Collector[domain.StorageUpdate], p *Pusher, log logger.Logger) *Agent[domain.StorageUpdate] {
	return &Agent[domain.StorageUpdate]{name: "storage", path: StoragePath, collector: c, pusher: p, logger: log}
}

// Once collects and pushes a single update.
func (a *Agent[T]) Once(ctx context.Context) error {
	u, err := a.collector.Collect(ctx)
	if err != nil {
		return err
	}
	if err := a.pusher.Push(ctx, a.path, u); err != nil {
		return err
	}
	a.logger.Debug("update pushed", logger.String("agent", a.name))
	return nil
}

// Run pushes an update every interval until ctx is done. A failed push is
// logged and retried on the next tick.
func (a *Agent[T]) Run(ctx context.Context, interval time.Duration) error {
	a.logger.Info("agent started",
		logger.String("agent", a.name),
		logger.String("endpoint", a.pusher.serverURL+a.path),
		logger.Duration("interval", interval))

	l := &scheduler.Loop{
		Name:      a.name + "-agent",
		Interval:  interval,
		Fn:        a.Once,
		Immediate: true,
		Logger:    a.logger,
	}
	return l.Run(ctx)
}
