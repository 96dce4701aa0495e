package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(sqlx.NewDb(sqlDB, "sqlmock")), mock
}

func TestTouchUpsertsUserAndSettings(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(int64(7), "ivan", "Ivan", "", "en").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO user_settings").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Touch(context.Background(), User{TelegramID: 7, Username: "ivan", FirstName: "Ivan", LanguageCode: "en"})
	if err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTouchRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := store.Touch(context.Background(), User{TelegramID: 7}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIdentityPrefersSavedName(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"username", "first_name", "last_name", "saved_full_name", "saved_email"}
	mock.ExpectQuery("FROM users u").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("ivan", "Ivan", "Petrov", "Иванов Иван", "a@b.cd"))

	id, err := store.Identity(context.Background(), 7)
	if err != nil {
		t.Fatalf("Identity returned error: %v", err)
	}
	if id.Handle != "ivan" || id.FullName != "Иванов Иван" || id.Email != "a@b.cd" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	mock.ExpectQuery("FROM users u").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("", "Ivan", "Petrov", nil, nil))
	id, err = store.Identity(context.Background(), 8)
	if err != nil {
		t.Fatalf("Identity returned error: %v", err)
	}
	if id.FullName != "Ivan Petrov" || id.Email != "" {
		t.Fatalf("expected display name fallback, got %+v", id)
	}
}

func TestIdentityUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM users u").
		WillReturnRows(sqlmock.NewRows([]string{"username"}))

	if _, err := store.Identity(context.Background(), 1); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestPreferencesDefaultsWhenMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM user_settings").
		WillReturnRows(sqlmock.NewRows([]string{"default_currency_give"}))

	p, err := store.Preferences(context.Background(), 1)
	if err != nil {
		t.Fatalf("Preferences returned error: %v", err)
	}
	if p != DefaultPreferences() {
		t.Fatalf("expected defaults, got %+v", p)
	}
}

func TestSaveIdentityProfileSkipsEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	if err := store.SaveIdentityProfile(context.Background(), 7, fields.ProfileUpdate{}); err != nil {
		t.Fatalf("empty update returned error: %v", err)
	}
	mock.ExpectExec("UPDATE user_settings").
		WithArgs(int64(7), "", "a@b.cd").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SaveIdentityProfile(context.Background(), 7, fields.ProfileUpdate{Email: " a@b.cd "}); err != nil {
		t.Fatalf("SaveIdentityProfile returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordExchangeUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO exchanges").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RecordExchange(context.Background(), 7, "2", order.Order{ID: "42", Hash: "h"})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestRecordExchangeAndStatus(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO exchanges").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE exchanges SET status").
		WithArgs("h", "Оплачена").
		WillReturnResult(sqlmock.NewResult(0, 1))

	o := order.Order{ID: "42", Hash: "h", StatusTitle: "Новая", AmountGive: decimal.NewFromInt(100)}
	if err := store.RecordExchange(context.Background(), 7, "2", o); err != nil {
		t.Fatalf("RecordExchange returned error: %v", err)
	}
	if err := store.UpdateExchangeStatus(context.Background(), "h", "Оплачена"); err != nil {
		t.Fatalf("UpdateExchangeStatus returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistory(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cols := []string{"exchanger_order_hash", "direction_id", "currency_give_code", "currency_get_code",
		"amount_give", "amount_get", "status", "created_at"}
	mock.ExpectQuery("FROM exchanges e").
		WithArgs(int64(7), int64(10)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("h", "2", "USDT", "RUB", "100.5", "9045", "Новая", now))

	items, err := store.History(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(items) != 1 || !items[0].AmountGive.Equal(decimal.RequireFromString("100.5")) || !items[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected history: %+v", items)
	}
}
