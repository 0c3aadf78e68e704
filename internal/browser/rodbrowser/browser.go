// Package rodbrowser drives Chrome through go-rod.
package rodbrowser

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
)

// Browser owns one Chrome process, or a connection to a remote one. Every
// page lives in its own incognito context so sessions never leak between
// workers.
type Browser struct {
	cfg      config.BrowserConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	logger   *zap.Logger
}

var _ browser.Browser = (*Browser)(nil)

type Option func(*Browser)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Browser) { b.logger = logger }
}

// Launch starts Chrome, or connects to cfg.Remote when it is set.
func Launch(ctx context.Context, cfg config.BrowserConfig, opts ...Option) (*Browser, error) {
	b := &Browser{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	controlURL, err := b.controlURL(ctx)
	if err != nil {
		return nil, err
	}

	b.browser = rod.New().ControlURL(controlURL)
	if err := b.browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.logger.Info("browser ready",
		zap.Bool("headless", cfg.Headless),
		zap.Bool("stealth", cfg.Stealth),
		zap.Bool("remote", cfg.Remote != ""))
	return b, nil
}

func (b *Browser) controlURL(ctx context.Context) (string, error) {
	if b.cfg.Remote != "" {
		u, err := launcher.ResolveURL(b.cfg.Remote)
		if err != nil {
			return "", fmt.Errorf("failed to resolve remote browser %s: %w", b.cfg.Remote, err)
		}
		return u, nil
	}

	// Leakless deadlocks on Windows, see https://github.com/go-rod/rod/issues/853
	b.launcher = launcher.New().
		Context(ctx).
		Leakless(runtime.GOOS != "windows").
		Headless(b.cfg.Headless)

	if b.cfg.Bin != "" {
		b.launcher = b.launcher.Bin(b.cfg.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		b.launcher = b.launcher.Bin(path)
		b.logger.Debug("using system chrome", zap.String("path", path))
	}

	u, err := b.launcher.Launch()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "ProcessSingleton") || strings.Contains(msg, "SingletonLock") {
			return "", fmt.Errorf("chrome is already running with this profile, close it and try again: %w", err)
		}
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	return u, nil
}

// NewPage opens a tab in a fresh incognito context seeded with state.
func (b *Browser) NewPage(ctx context.Context, state *browser.StorageState) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	var page *rod.Page
	if b.cfg.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	p := &Page{owner: b, context: incognito, page: page}

	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             b.cfg.ViewportWidth,
			Height:            b.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			b.logger.Debug("failed to set viewport", zap.Error(err))
		}
	}

	if state != nil {
		if err := p.restore(ctx, state); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
}
