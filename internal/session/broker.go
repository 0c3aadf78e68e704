// Package session gives every worker an authenticated browser storage state.
// A worker logs in at most once; the resulting state is kept in a file named
// after the worker id and reused, without expiry checks, by later runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cartcheck/internal/browser"
)

// Account is a storefront login.
type Account struct {
	Username string
	Password string
}

// AccountFunc picks the account a worker signs in with.
type AccountFunc func(workerID int) (Account, error)

// StaticAccount signs every worker in with the same account.
func StaticAccount(username, password string) AccountFunc {
	return func(int) (Account, error) {
		if username == "" || password == "" {
			return Account{}, errors.New("storefront credentials are not set")
		}
		return Account{Username: username, Password: password}, nil
	}
}

// Session is a worker's authenticated storage state.
type Session struct {
	WorkerID int
	Path     string
	State    *browser.StorageState
	// Fresh reports that this acquisition performed the login.
	Fresh bool
}

type Broker struct {
	browser  browser.Browser
	store    *Store
	accounts AccountFunc
	flow     LoginFlow
	logger   *zap.Logger

	group singleflight.Group
}

type Option func(*Broker)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

func NewBroker(br browser.Browser, store *Store, accounts AccountFunc, flow LoginFlow, opts ...Option) *Broker {
	b := &Broker{
		browser:  br,
		store:    store,
		accounts: accounts,
		flow:     flow,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Acquire returns the session of workerID, logging in first when none is
// stored. Concurrent calls for one worker id share a single login.
func (b *Broker) Acquire(ctx context.Context, workerID int) (*Session, error) {
	v, err, shared := b.group.Do(strconv.Itoa(workerID), func() (interface{}, error) {
		return b.acquire(ctx, workerID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		b.logger.Debug("session acquisition shared", zap.Int("worker", workerID))
	}
	return v.(*Session), nil
}

func (b *Broker) acquire(ctx context.Context, workerID int) (*Session, error) {
	path := b.store.Path(workerID)

	state, ok, err := b.store.Load(workerID)
	if err != nil {
		return nil, err
	}
	if ok {
		b.logger.Debug("reusing stored session", zap.Int("worker", workerID), zap.String("path", path))
		return &Session{WorkerID: workerID, Path: path, State: state}, nil
	}

	acct, err := b.accounts(workerID)
	if err != nil {
		return nil, fmt.Errorf("no account for worker %d: %w", workerID, err)
	}

	b.logger.Info("logging in", zap.Int("worker", workerID), zap.String("user", acct.Username))

	page, err := b.browser.NewPage(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}
	defer page.Close()

	state, err = b.flow.Login(ctx, page, acct)
	if err != nil {
		return nil, fmt.Errorf("worker %d login failed: %w", workerID, err)
	}

	if err := b.store.Save(workerID, state); err != nil {
		return nil, err
	}
	b.logger.Info("session stored", zap.Int("worker", workerID), zap.String("path", path))
	return &Session{WorkerID: workerID, Path: path, State: state, Fresh: true}, nil
}
