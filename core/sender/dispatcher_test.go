package sender

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond, MaxDuration: time.Second})

	var calls atomic.Int32
	done := make(chan struct{})
	err := d.Enqueue(context.Background(), "send_message", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed")
	}
	d.Close()
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("error count = %d", d.ErrorCount())
	}
}

func TestDispatcherCountsPermanentFailures(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), "profile_save", "", func() error {
		calls.Add(1)
		return errors.New("constraint violation")
	})
	d.Close()

	if got := calls.Load(); got != 1 {
		t.Fatalf("permanent error retried: calls = %d", got)
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", d.ErrorCount())
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	if err := d.Enqueue(context.Background(), "x", "", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
	if err := NewDispatcher(Options{}).Enqueue(context.Background(), "x", "", nil); err == nil {
		t.Fatal("expected nil run error")
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	_ = d.Enqueue(context.Background(), "block", "", func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	if err := d.Enqueue(context.Background(), "queued", "", func() error { return nil }); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := d.Enqueue(context.Background(), "overflow", "", func() error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(release)
	d.Close()
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "upstream" }
func (e statusErr) HTTPStatus() int { return e.code }

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, "dial"},
		{"telegram 4xx", &tele.Error{Code: 400, Description: "bad request"}, "http_4xx"},
		{"coded 5xx", statusErr{code: 502}, "http_5xx"},
		{"flood", tele.FloodError{RetryAfter: 3}, "http_4xx"},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), "db_conn"},
		{"plain", errors.New("boom"), "unknown"},
	}
	for _, tc := range cases {
		if got := classifyError(tc.err); got != tc.want {
			t.Errorf("%s: classifyError = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New("post https://api.telegram.org/bot123:ABC_def/sendMessage api-key=secret")
	got := sanitizeErrorMessage(err)
	if got != "post https://api.telegram.org/bot<redacted>/sendMessage api-key=<redacted>" {
		t.Fatalf("sanitized = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	if ok, after := retryable(tele.FloodError{RetryAfter: 2}); !ok || after != 2*time.Second {
		t.Fatalf("flood: retry=%v after=%v", ok, after)
	}
	if ok, _ := retryable(fmt.Errorf("update status: %w", driver.ErrBadConn)); !ok {
		t.Fatal("broken db connection must be retried")
	}
	if ok, _ := retryable(errors.New("duplicate key")); ok {
		t.Fatal("permanent error retried")
	}
}
