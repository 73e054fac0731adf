package session

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultSweepSpec runs the login-timeout sweep every minute.
const DefaultSweepSpec = "@every 1m"

// Sweeper periodically fails sessions whose login window has passed.
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	spec    string
}

// NewSweeper creates a Sweeper for m. An empty spec uses DefaultSweepSpec.
func NewSweeper(m *Manager, spec string) *Sweeper {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return &Sweeper{
		cron:    cron.New(cron.WithLogger(zapCronLogger{}), cron.WithChain(cron.SkipIfStillRunning(zapCronLogger{}))),
		manager: m,
		spec:    spec,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return eris.Wrapf(err, "session: schedule sweep %q", s.spec)
	}
	s.cron.Start()
	zap.L().Info("session: sweeper started", zap.String("spec", s.spec))
	return nil
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	n, err := s.manager.ExpireLogins(ctx)
	if err != nil {
		zap.L().Error("session: sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("session: expired waiting sessions", zap.Int("count", n))
	}
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
