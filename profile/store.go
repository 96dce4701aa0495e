// Package profile persists Telegram users, their preferences and the orders
// they created.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
)

// ErrUnknownUser is returned when the user has never been touched.
var ErrUnknownUser = errors.New("profile: unknown user")

// User is the Telegram account snapshot stored on every interaction.
type User struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// Preferences are the per-user session defaults.
type Preferences struct {
	DefaultGive          string `db:"default_currency_give"`
	DefaultGet           string `db:"default_currency_get"`
	Language             string `db:"language"`
	NotificationsEnabled bool   `db:"notifications_enabled"`
}

// Exchange is a stored order.
type Exchange struct {
	Hash         string          `db:"exchanger_order_hash"`
	DirectionID  string          `db:"direction_id"`
	CurrencyGive string          `db:"currency_give_code"`
	CurrencyGet  string          `db:"currency_get_code"`
	AmountGive   decimal.Decimal `db:"amount_give"`
	AmountGet    decimal.Decimal `db:"amount_get"`
	Status       string          `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Store is a Postgres-backed profile store.
type Store struct {
	db *sqlx.DB
}

var _ fields.Persister = (*Store)(nil)

// NewStore wraps db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// Touch upserts the user and makes sure a settings row exists.
func (s *Store) Touch(ctx context.Context, u User) error {
	start := time.Now()
	err := s.tx(ctx, func(tx *sqlx.Tx) error {
		var userID int64
		if err := tx.GetContext(ctx, &userID, `
			INSERT INTO users (telegram_id, username, first_name, last_name, language_code)
			VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, ''), 'ru'))
			ON CONFLICT (telegram_id) DO UPDATE
			SET username = EXCLUDED.username,
			    first_name = EXCLUDED.first_name,
			    last_name = EXCLUDED.last_name,
			    last_active_at = now()
			RETURNING id`,
			u.TelegramID, u.Username, u.FirstName, u.LastName, u.LanguageCode,
		); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("ensure settings: %w", err)
		}
		return nil
	})
	s.log(ctx, "profile.touch", start, err, slog.Int64("user_id", u.TelegramID))
	if err != nil {
		return fmt.Errorf("profile: touch: %w", err)
	}
	return nil
}

type identityRow struct {
	Username  sql.NullString `db:"username"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	FullName  sql.NullString `db:"saved_full_name"`
	Email     sql.NullString `db:"saved_email"`
}

// Identity returns the auto-fill identity of a user. The saved full name
// wins over the Telegram display name.
func (s *Store) Identity(ctx context.Context, telegramID int64) (fields.Identity, error) {
	var row identityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT u.username, u.first_name, u.last_name, st.saved_full_name, st.saved_email
		FROM users u
		LEFT JOIN user_settings st ON st.user_id = u.id
		WHERE u.telegram_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return fields.Identity{}, ErrUnknownUser
	}
	if err != nil {
		return fields.Identity{}, fmt.Errorf("profile: identity: %w", err)
	}
	full := strings.TrimSpace(row.FullName.String)
	if full == "" {
		full = strings.TrimSpace(row.FirstName.String + " " + row.LastName.String)
	}
	return fields.Identity{
		Handle:   row.Username.String,
		FullName: full,
		Email:    strings.TrimSpace(row.Email.String),
	}, nil
}

// DefaultPreferences are used for users without a settings row.
func DefaultPreferences() Preferences {
	return Preferences{
		DefaultGive:          "USDT TRC20",
		DefaultGet:           "Сбербанк RUB",
		Language:             "ru",
		NotificationsEnabled: true,
	}
}

// Preferences returns the user's defaults, or DefaultPreferences when none are stored.
func (s *Store) Preferences(ctx context.Context, telegramID int64) (Preferences, error) {
	var p Preferences
	err := s.db.GetContext(ctx, &p, `
		SELECT st.default_currency_give, st.default_currency_get, st.language, st.notifications_enabled
		FROM user_settings st
		JOIN users u ON u.id = st.user_id
		WHERE u.telegram_id = $1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return DefaultPreferences(), fmt.Errorf("profile: preferences: %w", err)
	}
	return p, nil
}

// SaveDefaultDirection remembers the last direction a user ordered.
func (s *Store) SaveDefaultDirection(ctx context.Context, telegramID int64, give, get string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_settings
		SET default_currency_give = $2, default_currency_get = $3
		WHERE user_id = (SELECT id FROM users WHERE telegram_id = $1)`,
		telegramID, give, get)
	s.log(ctx, "profile.defaults", start, err, slog.Int64("user_id", telegramID))
	if err != nil {
		return fmt.Errorf("profile: save defaults: %w", err)
	}
	return nil
}

// SaveIdentityProfile stores the non-empty parts of update for future auto-fill.
func (s *Store) SaveIdentityProfile(ctx context.Context, requesterID int64, update fields.ProfileUpdate) error {
	if update.Empty() {
		return nil
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_settings
		SET saved_full_name = COALESCE(NULLIF($2, ''), saved_full_name),
		    saved_email = COALESCE(NULLIF($3, ''), saved_email)
		WHERE user_id = (SELECT id FROM users WHERE telegram_id = $1)`,
		requesterID, strings.TrimSpace(update.FullName), strings.TrimSpace(update.Email))
	s.log(ctx, "profile.identity_save", start, err, slog.Int64("user_id", requesterID))
	if err != nil {
		return fmt.Errorf("profile: save identity: %w", err)
	}
	return nil
}

// RecordExchange stores a created order. Recording the same hash twice updates its status.
func (s *Store) RecordExchange(ctx context.Context, telegramID int64, directionID string, o order.Order) error {
	start := time.Now()
	var orderID sql.NullInt64
	if id, err := strconv.ParseInt(strings.TrimSpace(o.ID), 10, 64); err == nil {
		orderID = sql.NullInt64{Int64: id, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (
			user_id, exchanger_order_id, exchanger_order_hash, direction_id,
			currency_give_code, currency_get_code, amount_give, amount_get, status,
			payment_type, can_cancel, can_pay_via_api, payment_url, order_url
		)
		SELECT id, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		FROM users WHERE telegram_id = $1
		ON CONFLICT (exchanger_order_hash) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now()`,
		telegramID, orderID, o.Hash, directionID,
		o.CurrencyGive, o.CurrencyGet, o.AmountGive, o.AmountGet, statusText(o),
		o.PaymentType, o.CanCancel, o.CanPayViaAPI, o.PaymentURL, o.URL,
	)
	if err == nil {
		if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
			err = ErrUnknownUser
		}
	}
	s.log(ctx, "profile.exchange_record", start, err,
		slog.Int64("user_id", telegramID),
		slog.String("order_hash", o.Hash),
	)
	if err != nil {
		return fmt.Errorf("profile: record exchange: %w", err)
	}
	return nil
}

// UpdateExchangeStatus stores the latest status of an order.
func (s *Store) UpdateExchangeStatus(ctx context.Context, hash, status string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE exchanges SET status = $2, updated_at = now()
		WHERE exchanger_order_hash = $1`, hash, status)
	s.log(ctx, "profile.exchange_status", start, err, slog.String("order_hash", hash))
	if err != nil {
		return fmt.Errorf("profile: update status: %w", err)
	}
	return nil
}

// History returns the latest orders of a user, newest first.
func (s *Store) History(ctx context.Context, telegramID int64, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Exchange
	err := s.db.SelectContext(ctx, &out, `
		SELECT e.exchanger_order_hash, COALESCE(e.direction_id, '') AS direction_id,
		       COALESCE(e.currency_give_code, '') AS currency_give_code,
		       COALESCE(e.currency_get_code, '') AS currency_get_code,
		       COALESCE(e.amount_give, 0) AS amount_give, COALESCE(e.amount_get, 0) AS amount_get,
		       COALESCE(e.status, '') AS status, e.created_at
		FROM exchanges e
		JOIN users u ON u.id = e.user_id
		WHERE u.telegram_id = $1
		ORDER BY e.created_at DESC
		LIMIT $2`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("profile: history: %w", err)
	}
	return out, nil
}

func statusText(o order.Order) string {
	if o.StatusTitle != "" {
		return o.StatusTitle
	}
	return o.StatusCode
}

func (s *Store) tx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) log(ctx context.Context, event string, start time.Time, err error, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		logger.Warn(ctx, logger.CompProfile, event, attrs...)
		return
	}
	logger.Debug(ctx, logger.CompProfile, event, attrs...)
}
