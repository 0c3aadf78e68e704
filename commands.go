package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartcheck/internal/config"
	"cartcheck/internal/demoshop"
	"cartcheck/internal/runner"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		rootURL    string
		engine     string
		workers    int
		headful    bool
		panelOrder string
		scenarios  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cart scenarios against the storefront",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("root-url") {
				a.cfg.Site.RootURL = rootURL
			}
			if flags.Changed("engine") {
				a.cfg.Browser.Engine = engine
			}
			if flags.Changed("workers") {
				a.cfg.Workers = workers
			}
			if flags.Changed("headful") {
				a.cfg.Browser.Headless = !headful
			}
			if flags.Changed("panel-order") {
				a.cfg.PanelOrder = panelOrder
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			selected, err := runner.Select(runner.DefaultScenarios(), scenarios)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			br, err := a.launch(ctx)
			if err != nil {
				return err
			}
			defer br.Close()

			r := runner.New(br, a.broker(br), a.cfg, a.labels,
				runner.WithLogger(a.logger.Named("runner")),
				runner.WithScenarios(selected))

			report, err := r.Run(ctx)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report.String())
			}
			if err != nil {
				return err
			}
			if len(report.Failed()) > 0 {
				return fmt.Errorf("%d of %d scenarios failed", len(report.Failed()), len(report.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootURL, "root-url", "", "Storefront root URL")
	cmd.Flags().StringVar(&engine, "engine", config.EngineRod, "Browser engine: rod or playwright")
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of parallel workers")
	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	cmd.Flags().StringVar(&panelOrder, "panel-order", config.PanelOrderInsertion, "Cart panel row order: insertion or any")
	cmd.Flags().StringSliceVarP(&scenarios, "scenario", "s", nil, "Run only the named scenarios (repeatable)")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign worker slots in and store their sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 {
				workers = a.cfg.Workers
			}

			ctx := cmd.Context()
			br, err := a.launch(ctx)
			if err != nil {
				return err
			}
			defer br.Close()

			broker := a.broker(br)
			g, ctx := errgroup.WithContext(ctx)
			g.SetLimit(workers)
			for id := 0; id < workers; id++ {
				g.Go(func() error {
					s, err := broker.Acquire(ctx, id)
					if err != nil {
						return err
					}
					a.logger.Info("session ready",
						zap.Int("worker", id),
						zap.Bool("fresh", s.Fresh),
						zap.String("path", s.Path))
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of worker slots (default from config)")
	return cmd
}

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect or remove stored worker sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workers with a stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.store()
			ids, err := store.Workers()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no sessions in %s\n", store.Dir())
				return nil
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, store.Path(id))
			}
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear [worker-id...]",
		Short: "Remove stored sessions so the next run signs in again",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.store()
			if len(args) == 0 {
				n, err := store.Clear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d session(s)\n", n)
				return nil
			}
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid worker id %q", arg)
				}
				if err := store.Remove(id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d session(s)\n", len(args))
			return nil
		},
	}

	cmd.AddCommand(list, clear)
	return cmd
}

func newDemoshopCmd(a *app) *cobra.Command {
	var (
		addr           string
		loginRedirects int
		serverError    bool
	)

	cmd := &cobra.Command{
		Use:   "demoshop",
		Short: "Serve a storefront that follows the cart markup",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password := a.cfg.Username, a.cfg.Password
			if username == "" || password == "" {
				return errors.New("set CARTCHECK_USERNAME and CARTCHECK_PASSWORD for the demo account")
			}

			opts := []demoshop.Option{
				demoshop.WithLogger(a.logger.Named("demoshop")),
				demoshop.WithLoginRedirects(loginRedirects),
			}
			if serverError {
				opts = append(opts, demoshop.WithServerError())
			}
			shop, err := demoshop.New(nil, username, password, opts...)
			if err != nil {
				return err
			}
			return shop.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().IntVar(&loginRedirects, "login-redirects", 2, "Redirect hops between login and the landing page")
	cmd.Flags().BoolVar(&serverError, "server-error", false, "Show a server error banner on the cart page")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with default values",
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", a.configPath)
			}
			if err := config.DefaultConfig().Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
