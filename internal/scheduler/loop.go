package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// PanicRecorder is told about every recovered tick panic.
type PanicRecorder interface {
	LoopPanic(loop string)
}

// Loop runs fn on a fixed interval until its context is cancelled. A
// failing or panicking tick is logged and the loop carries on.
type Loop struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error

	// Trigger runs fn outside the interval when it receives a value.
	Trigger <-chan struct{}

	// Immediate runs fn once before the first tick.
	Immediate bool

	Logger   logger.Logger
	Recorder PanicRecorder
}

// Run blocks until ctx is done. It always returns nil so a supervisor
// never tears down its siblings because of one loop.
func (l *Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		return fmt.Errorf("loop %s: interval must be positive", l.Name)
	}

	if l.Immediate {
		l.tick(ctx, "startup")
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.tick(ctx, "interval")
		case <-l.Trigger:
			l.Logger.Info("manual run triggered", logger.String("loop", l.Name))
			l.tick(ctx, "manual")
		case <-ctx.Done():
			l.Logger.Debug("loop stopped", logger.String("loop", l.Name))
			return nil
		}
	}
}

func (l *Loop) tick(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.Logger.Error("loop tick panicked",
				logger.String("loop", l.Name),
				logger.Any("panic", r))
			if l.Recorder != nil {
				l.Recorder.LoopPanic(l.Name)
			}
		}
	}()

	if err := l.Fn(ctx); err != nil && ctx.Err() == nil {
		l.Logger.Error("loop tick failed",
			logger.String("loop", l.Name),
			logger.String("reason", reason),
			logger.Error(err))
	}
}
