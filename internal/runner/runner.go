// Package runner executes the cart scenarios. Scenarios are dealt round-robin
// to worker lanes; each lane signs in once, keeps one page open and runs its
// scenarios one after another. A failed scenario is recorded and the lane
// moves on to the next one.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartcheck/internal/api"
	"cartcheck/internal/browser"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
	"cartcheck/internal/session"
	"cartcheck/internal/storefront"
)

// Result is the outcome of one scenario.
type Result struct {
	Scenario string
	Worker   int
	Duration time.Duration
	Err      error
}

func (r Result) Passed() bool { return r.Err == nil }

// Skipped reports that the scenario never ran because its lane stopped first.
func (r Result) Skipped() bool { return errors.Is(r.Err, ErrNotRun) }

// ErrNotRun marks a scenario whose lane aborted before reaching it.
var ErrNotRun = errors.New("scenario did not run")

// Report collects the results of one run in suite order.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed() {
			n++
		}
	}
	return n
}

func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the failures, or returns nil when every scenario passed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Scenario, res.Err))
	}
	return errors.Join(errs...)
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d/%d passed in %s\n", r.RunID, r.Passed(), len(r.Results), r.Duration.Round(time.Millisecond))
	for _, res := range r.Results {
		status := "PASS"
		switch {
		case res.Skipped():
			status = "SKIP"
		case !res.Passed():
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %s  [worker %d] %s (%s)\n", status, res.Worker, res.Scenario, res.Duration.Round(time.Millisecond))
		if !res.Passed() {
			fmt.Fprintf(&b, "        %v\n", res.Err)
		}
	}
	return b.String()
}

type Runner struct {
	browser   browser.Browser
	broker    *session.Broker
	cfg       *config.Config
	labels    *locale.Labels
	logger    *zap.Logger
	scenarios []Scenario
	modelOpts []storefront.Option
}

type Option func(*Runner)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithScenarios replaces the default suite.
func WithScenarios(s []Scenario) Option {
	return func(r *Runner) { r.scenarios = s }
}

// WithModelOptions adds options to every storefront model the runner creates.
func WithModelOptions(opts ...storefront.Option) Option {
	return func(r *Runner) { r.modelOpts = append(r.modelOpts, opts...) }
}

func New(br browser.Browser, broker *session.Broker, cfg *config.Config, labels *locale.Labels, opts ...Option) *Runner {
	r := &Runner{
		browser:   br,
		broker:    broker,
		cfg:       cfg,
		labels:    labels,
		logger:    zap.NewNop(),
		scenarios: DefaultScenarios(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lanes deals n scenarios to at most workers lanes, round-robin. Lane i
// holds the indexes of its scenarios in suite order.
func Lanes(n, workers int) [][]int {
	if workers > n {
		workers = n
	}
	if workers < 1 {
		return nil
	}
	lanes := make([][]int, workers)
	for i := 0; i < n; i++ {
		lanes[i%workers] = append(lanes[i%workers], i)
	}
	return lanes
}

// Run executes the suite. Scenario failures end up in the report; the error
// is reserved for failures that stop a lane, such as a login that cannot be
// completed or a cancelled ctx.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Results: make([]Result, len(r.scenarios)),
	}
	logger := r.logger.With(zap.String("run", report.RunID))

	lanes := Lanes(len(r.scenarios), r.cfg.Workers)
	for worker, indexes := range lanes {
		for _, i := range indexes {
			report.Results[i] = Result{Scenario: r.scenarios[i].Name, Worker: worker, Err: ErrNotRun}
		}
	}
	logger.Info("starting cart suite",
		zap.Int("scenarios", len(r.scenarios)),
		zap.Int("workers", len(lanes)))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(lanes), 1))
	for worker, indexes := range lanes {
		g.Go(func() error {
			return r.lane(groupCtx, logger.With(zap.Int("worker", worker)), worker, indexes, report.Results)
		})
	}
	err := g.Wait()
	report.Duration = time.Since(report.Started)
	if err != nil {
		return report, err
	}

	logger.Info("cart suite finished",
		zap.Int("passed", report.Passed()),
		zap.Int("failed", len(report.Failed())),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// lane runs the scenarios at indexes on one page, writing into results at
// the same indexes. When the lane stops early the scenarios it did not reach
// keep ErrNotRun, joined with the reason.
func (r *Runner) lane(ctx context.Context, logger *zap.Logger, worker int, indexes []int, results []Result) error {
	sess, err := r.broker.Acquire(ctx, worker)
	if err != nil {
		err = fmt.Errorf("worker %d: %w", worker, err)
		notRun(results, indexes, err)
		return err
	}

	page, err := r.browser.NewPage(ctx, sess.State)
	if err != nil {
		err = fmt.Errorf("worker %d: failed to open page: %w", worker, err)
		notRun(results, indexes, err)
		return err
	}
	defer page.Close()

	client := api.New(page, r.cfg.URLs(), r.cfg.Selectors.HeadMeta, api.WithLogger(logger.Named("api")))

	for n, i := range indexes {
		if ctxErr := ctx.Err(); ctxErr != nil {
			notRun(results, indexes[n:], ctxErr)
			return ctxErr
		}

		s := r.scenarios[i]
		began := time.Now()
		err := r.runScenario(ctx, logger, page, client, s)
		results[i] = Result{Scenario: s.Name, Worker: worker, Duration: time.Since(began), Err: err}

		if ctxErr := ctx.Err(); ctxErr != nil {
			notRun(results, indexes[n+1:], ctxErr)
			return ctxErr
		}
		if err != nil {
			logger.Warn("scenario failed", zap.String("scenario", s.Name), zap.Error(err))
		} else {
			logger.Info("scenario passed", zap.String("scenario", s.Name), zap.Duration("duration", results[i].Duration))
		}
	}
	return nil
}

func notRun(results []Result, indexes []int, cause error) {
	for _, i := range indexes {
		results[i].Err = fmt.Errorf("%w: %w", ErrNotRun, cause)
	}
}

// runScenario prepares a fresh model the same way for every scenario: open
// the storefront, discover the catalog, reset the cart.
func (r *Runner) runScenario(ctx context.Context, logger *zap.Logger, page browser.Page, client *api.Client, s Scenario) error {
	opts := append([]storefront.Option{
		storefront.WithLogger(logger.Named("storefront").With(zap.String("scenario", s.Name))),
	}, r.modelOpts...)
	m := storefront.New(page, r.cfg, r.labels, client, opts...)

	if err := m.Open(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := m.DiscoverCatalog(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := m.ResetCart(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	return s.Run(ctx, m)
}
