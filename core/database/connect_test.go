package database

import (
	"context"
	"errors"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/swapbot/core/config"
)

func TestPostgresURLEscapesCredentials(t *testing.T) {
	got := postgresURL(coreconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "bot", Password: "p@ss:w/rd", Name: "swap", SSLMode: "disable",
	})
	want := "postgres://bot:p%40ss%3Aw%2Frd@db:5432/swap?sslmode=disable"
	if got != want {
		t.Fatalf("postgresURL = %q, want %q", got, want)
	}
}

type flakyPinger struct{ failures int }

func (p *flakyPinger) PingContext(context.Context) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReady(t *testing.T) {
	if err := waitReady(context.Background(), &flakyPinger{}); err != nil {
		t.Fatalf("ready database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := waitReady(ctx, &flakyPinger{failures: 1 << 20})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
