package browser

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LocalConfig configures locally launched Chrome instances.
type LocalConfig struct {
	Bin        string
	Headless   bool
	ProfileDir string
}

// LocalProvider launches Chrome on this machine, one process per profile.
// Profile data persists under ProfileDir so an operator login survives restarts.
type LocalProvider struct {
	cfg LocalConfig

	mu        sync.Mutex
	launchers map[string]*launcher.Launcher
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	return &LocalProvider{cfg: cfg, launchers: make(map[string]*launcher.Launcher)}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Start(ctx context.Context, profileID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, running := p.launchers[profileID]; running {
		return "", eris.Errorf("local: profile %s already running", profileID)
	}

	l := launcher.New().Headless(p.cfg.Headless)
	if p.cfg.Bin != "" {
		l = l.Bin(p.cfg.Bin)
	}
	if p.cfg.ProfileDir != "" && profileID != "" {
		l = l.UserDataDir(filepath.Join(p.cfg.ProfileDir, profileID))
	}

	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		u, err := l.Launch()
		done <- result{u, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			l.Kill()
		}()
		return "", eris.Wrapf(ctx.Err(), "local: launch profile %s", profileID)
	case r := <-done:
		if r.err != nil {
			return "", eris.Wrapf(r.err, "local: launch profile %s", profileID)
		}
		p.launchers[profileID] = l
		zap.L().Info("local: chrome launched", zap.String("profile", profileID))
		return r.url, nil
	}
}

func (p *LocalProvider) Stop(_ context.Context, profileID string) error {
	p.mu.Lock()
	l, ok := p.launchers[profileID]
	delete(p.launchers, profileID)
	p.mu.Unlock()

	if ok {
		l.Kill()
	}
	return nil
}
