// Package reconcile back-fills billing customer ids that a crashed request
// or a lost webhook left unrecorded. A cron sweep lists recently created
// provider customers and re-applies the fill-once profile write.
package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/profile"
)

// Sweeper periodically reconciles provider customers against billing profiles
type Sweeper struct {
	provider payments.Provider
	store    profile.Store
	logger   *observability.Logger
	lookback time.Duration

	cron *cron.Cron
}

// NewSweeper creates a sweeper that looks back the given duration each run
func NewSweeper(provider payments.Provider, store profile.Store, logger *observability.Logger, lookback time.Duration) *Sweeper {
	return &Sweeper{
		provider: provider,
		store:    store,
		logger:   logger,
		lookback: lookback,
	}
}

// Start schedules the sweep on the given cron expression ("@hourly" etc.)
// and runs one sweep immediately to cover anything missed while down.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}()
	return nil
}

// Stop stops the cron scheduler and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep lists provider customers created inside the lookback window and
// re-applies the fill-once customer id write for each. Profiles that
// already carry a customer id are untouched.
func (s *Sweeper) Sweep(ctx context.Context) {
	since := time.Now().Add(-s.lookback)

	customers, err := s.provider.ListCustomersSince(ctx, since)
	if err != nil {
		s.logger.WithError(err).Error("Reconcile sweep failed to list customers")
		return
	}

	var backfilled int
	for _, c := range customers {
		if c.UserID == "" {
			continue
		}

		won, err := s.store.SetBillingCustomerID(ctx, c.UserID, c.ID)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id":     c.UserID,
				"customer_id": c.ID,
			}).Warn("Reconcile sweep failed to back-fill customer id")
			continue
		}
		if won {
			backfilled++
			s.logger.WithFields(map[string]interface{}{
				"user_id":     c.UserID,
				"customer_id": c.ID,
			}).Info("Back-filled billing customer id")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"customers_seen": len(customers),
		"backfilled":     backfilled,
	}).Info("Reconcile sweep completed")
}
