package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// Supervisor owns a group of background loops. Stop cancels all of them
// and Wait returns once every one has returned.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	logger logger.Logger
}

func NewSupervisor(parent context.Context, log logger.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{ctx: gctx, cancel: cancel, group: g, logger: log}
}

// Context is cancelled when the supervisor stops.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts fn under the supervisor. A panic in fn is turned into an
// error, which stops the whole group.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()
		s.logger.Debug("task started", logger.String("task", name))
		if err := fn(s.ctx); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		return nil
	})
}

// GoLoop starts l under the supervisor.
func (s *Supervisor) GoLoop(l *Loop) {
	s.Go(l.Name, l.Run)
}

// Stop cancels every task. It does not wait.
func (s *Supervisor) Stop() {
	s.cancel()
}

// Wait blocks until every task has returned and reports the first failure.
func (s *Supervisor) Wait() error {
	err := s.group.Wait()
	s.cancel()
	return err
}
