package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/browser/pwbrowser"
	"cartcheck/internal/browser/rodbrowser"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
	"cartcheck/internal/logging"
	"cartcheck/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app is what every command needs once flags are parsed.
type app struct {
	configPath string
	envFile    string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
	labels *locale.Labels
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "cartcheck",
		Short:         "Verify a storefront's shopping cart UI against a client-side model of it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				logging.Sync(a.logger)
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "cartcheck.yaml", "Path to configuration file (created with defaults when missing)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "File with CARTCHECK_* variables, loaded when present")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(a),
		newLoginCmd(a),
		newSessionsCmd(a),
		newDemoshopCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", a.envFile, err)
	}

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if a.debug {
		cfg.Logger.Level = "debug"
	}

	labels, err := locale.Load(cfg.Locale, filepath.Dir(a.configPath))
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.labels = labels
	a.logger = logging.NewConsole(cfg.Logger)
	return nil
}

func (a *app) store() *session.Store {
	return session.NewStore(a.cfg.SessionDir)
}

// launch starts the configured browser engine.
func (a *app) launch(ctx context.Context) (browser.Browser, error) {
	logger := a.logger.Named("browser")
	switch a.cfg.Browser.Engine {
	case config.EnginePlaywright:
		b, err := pwbrowser.Launch(ctx, a.cfg.Browser, pwbrowser.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := rodbrowser.Launch(ctx, a.cfg.Browser, rodbrowser.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (a *app) broker(br browser.Browser) *session.Broker {
	return session.NewBroker(
		br,
		a.store(),
		session.StaticAccount(a.cfg.Username, a.cfg.Password),
		session.NewLoginFlow(a.cfg, a.labels),
		session.WithLogger(a.logger.Named("session")),
	)
}
