package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS billing_profiles (
	user_id TEXT PRIMARY KEY,
	billing_customer_id TEXT,
	subscription_id TEXT,
	subscription_status TEXT,
	plan TEXT,
	current_period_end TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_billing_profiles_customer
	ON billing_profiles (billing_customer_id);
`

// SQLiteStore is the local-development profile store
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the sqlite database and ensures the schema exists
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite serializes writes; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a profile store backed by the given sqlite database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetBillingCustomerID returns the user's customer id, "" when unset, or ErrNotFound
func (s *SQLiteStore) GetBillingCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT billing_customer_id FROM billing_profiles WHERE user_id = ?`,
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

// SetBillingCustomerID performs the fill-once write
func (s *SQLiteStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_profiles (user_id, billing_customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET billing_customer_id = excluded.billing_customer_id, updated_at = excluded.updated_at
		 WHERE billing_profiles.billing_customer_id IS NULL`,
		userID, customerID, now, now,
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
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
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
		 FROM billing_profiles WHERE user_id = ?`,
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
func (s *SQLiteStore) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_profiles
		 SET subscription_id = ?, subscription_status = ?, plan = ?,
		     current_period_end = ?, updated_at = ?
		 WHERE billing_customer_id = ?`,
		update.SubscriptionID, update.Status, update.Plan, update.CurrentPeriodEnd, time.Now().UTC(), customerID,
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

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
