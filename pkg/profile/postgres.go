package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS billing_profiles (
	user_id TEXT PRIMARY KEY,
	billing_customer_id TEXT,
	subscription_id TEXT,
	subscription_status TEXT,
	plan TEXT,
	current_period_end TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_billing_profiles_customer
	ON billing_profiles (billing_customer_id);
`

// PostgresStore is the production profile store
type PostgresStore struct {
	db *sql.DB
}

// PostgresOptions configures the postgres connection pool
type PostgresOptions struct {
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// OpenPostgres opens a postgres connection pool and ensures the schema exists
func OpenPostgres(ctx context.Context, databaseURL string, opts PostgresOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		db.SetMaxIdleConns(opts.MinConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// NewPostgresStore creates a profile store backed by the given connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying pool for health checks
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// GetBillingCustomerID returns the user's customer id, "" when unset, or ErrNotFound
func (s *PostgresStore) GetBillingCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT billing_customer_id FROM billing_profiles WHERE user_id = $1`,
		userID,
	).Scan(&customerID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get billing customer id: %w", err)
	}
	return customerID.String, nil
}

// SetBillingCustomerID performs the fill-once write. The conditional upsert
// only touches rows whose customer id is still NULL, so the first writer
// wins under concurrency.
func (s *PostgresStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_profiles (user_id, billing_customer_id, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET billing_customer_id = EXCLUDED.billing_customer_id, updated_at = NOW()
		 WHERE billing_profiles.billing_customer_id IS NULL`,
		userID, customerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set billing customer id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetProfile returns the full billing profile
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		p                Profile
		customerID       sql.NullString
		subscriptionID   sql.NullString
		status           sql.NullString
		plan             sql.NullString
		currentPeriodEnd sql.NullTime
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, billing_customer_id, subscription_id, subscription_status,
		        plan, current_period_end, created_at, updated_at
		 FROM billing_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &customerID, &subscriptionID, &status, &plan, &currentPeriodEnd, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile: %w", err)
	}

	p.BillingCustomerID = customerID.String
	p.SubscriptionID = subscriptionID.String
	p.SubscriptionStatus = status.String
	p.Plan = plan.String
	if currentPeriodEnd.Valid {
		t := currentPeriodEnd.Time
		p.CurrentPeriodEnd = &t
	}
	return &p, nil
}

// UpdateSubscriptionByCustomer syncs subscription state from webhook events
func (s *PostgresStore) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_profiles
		 SET subscription_id = $2, subscription_status = $3, plan = $4,
		     current_period_end = $5, updated_at = NOW()
		 WHERE billing_customer_id = $1`,
		customerID, update.SubscriptionID, update.Status, update.Plan, update.CurrentPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
