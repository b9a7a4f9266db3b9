package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/likerland/api/internal/model"
	"github.com/likerland/api/internal/secret"
)

// ErrBillingInvariant is returned when a subscription id would be stored
// without a customer id.
var ErrBillingInvariant = errors.New("subscription id requires a customer id")

type UserStore struct {
	db     *sql.DB
	sealer *secret.Sealer
}

func NewUserStore(db *sql.DB, sealer *secret.Sealer) *UserStore {
	return &UserStore{db: db, sealer: sealer}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var customerID, subscriptionID, planID sql.NullString
	err := scanner.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.Locale,
		&customerID, &subscriptionID, &planID, &u.Billing.Status,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		u.Billing.CustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		u.Billing.SubscriptionID = &subscriptionID.String
	}
	if planID.Valid {
		u.Billing.PlanID = &planID.String
	}
	return &u, nil
}

const userCols = `id, email, display_name, locale, stripe_customer_id, stripe_subscription_id, stripe_plan_id, stripe_status, created_at, updated_at`

// Upsert inserts the user or refreshes its profile fields. Billing columns
// and the refresh token are left untouched.
func (s *UserStore) Upsert(u model.User) (*model.User, error) {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, display_name, locale) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   email = excluded.email,
		   display_name = excluded.display_name,
		   locale = excluded.locale,
		   updated_at = CURRENT_TIMESTAMP`,
		u.ID, u.Email, u.DisplayName, u.Locale,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetByID(u.ID)
}

func (s *UserStore) GetByID(id string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetBySubscriptionID(subscriptionID string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE stripe_subscription_id = ?`, subscriptionID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by subscription id: %w", err)
	}
	return u, nil
}

// SetRefreshToken seals and stores the user's OAuth refresh token. An empty
// token removes it.
func (s *UserStore) SetRefreshToken(id, token string) error {
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE users SET refresh_token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		sealed, id,
	)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return requireRow(res, "update refresh token")
}

// RefreshToken returns the stored refresh token, or "" when the user is
// unknown or has none.
func (s *UserStore) RefreshToken(id string) (string, error) {
	var sealed string
	err := s.db.QueryRow(`SELECT refresh_token FROM users WHERE id = ?`, id).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	token, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("open refresh token: %w", err)
	}
	return token, nil
}

// UpdateBilling stores the processor linkage for a user.
func (s *UserStore) UpdateBilling(id string, rec model.BillingRecord) error {
	if rec.Subscription() != "" && rec.Customer() == "" {
		return ErrBillingInvariant
	}
	res, err := s.db.Exec(
		`UPDATE users SET stripe_customer_id = ?, stripe_subscription_id = ?, stripe_plan_id = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		nullString(rec.CustomerID), nullString(rec.SubscriptionID), nullString(rec.PlanID), id,
	)
	if err != nil {
		return fmt.Errorf("update billing: %w", err)
	}
	return requireRow(res, "update billing")
}

func (s *UserStore) UpdateStripeStatus(id, status string) error {
	_, err := s.db.Exec(
		`UPDATE users SET stripe_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update stripe status: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ErrNoRows is returned by updates that matched nothing.
var ErrNoRows = errors.New("no rows affected")

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNoRows)
	}
	return nil
}
