package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"iap-entitlement-api/internal/billing"

	"github.com/rs/zerolog/log"
)

// Refresher re-queries the billing inventory.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshConfig holds configuration for the refresh scheduler.
type RefreshConfig struct {
	// Interval is how often the inventory is refreshed. Zero disables the scheduler.
	Interval time.Duration

	// Timeout bounds a single refresh.
	// Default: 30 seconds
	Timeout time.Duration
}

// RefreshScheduler periodically refreshes the inventory while the gate is free.
type RefreshScheduler struct {
	client    Refresher
	config    RefreshConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewRefreshScheduler creates a new refresh scheduler.
func NewRefreshScheduler(client Refresher, config RefreshConfig) *RefreshScheduler {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &RefreshScheduler{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the scheduler. It does nothing when the interval is zero.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	if s.isRunning || s.config.Interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Info().Str("component", "refresh").Dur("interval", s.config.Interval).Msg("Refresh scheduler started")
	go s.run()
}

func (s *RefreshScheduler) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stopCh:
			log.Info().Str("component", "refresh").Msg("Refresh scheduler stopped")
			return
		}
	}
}

// RunNow performs one refresh. Busy and uninitialized clients are skipped.
func (s *RefreshScheduler) RunNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	err := s.client.Refresh(ctx)
	switch {
	case err == nil:
		log.Debug().Str("component", "refresh").Msg("Inventory refreshed")
	case errors.Is(err, billing.ErrBusy), errors.Is(err, billing.ErrNotInitialized):
		log.Debug().Str("component", "refresh").Err(err).Msg("Refresh skipped")
		return nil
	default:
		log.Warn().Str("component", "refresh").Err(err).Msg("Inventory refresh failed")
	}
	return err
}

// Stop stops the scheduler and waits for the loop to exit.
func (s *RefreshScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		if running {
			<-s.doneCh
		}
	})
}
