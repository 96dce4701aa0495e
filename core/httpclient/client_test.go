package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type flakyTransport struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.calls.Add(1)
	if req.Body != nil {
		_, _ = io.ReadAll(req.Body)
	}
	if n <= f.failures {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestRetryTransportRetriesDialErrors(t *testing.T) {
	base := &flakyTransport{failures: 2}
	client := Build(Options{Base: base, RetryAttempts: 3, RetryBackoff: time.Millisecond})

	req, err := http.NewRequest(http.MethodPost, "http://exchanger.test/get_calc", strings.NewReader("a=1"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if got := base.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestRetryTransportHonoursWithoutRetry(t *testing.T) {
	base := &flakyTransport{failures: 1}
	client := Build(Options{Base: base, RetryAttempts: 3, RetryBackoff: time.Millisecond})

	ctx := WithoutRetry(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://exchanger.test/create_bid", strings.NewReader("a=1"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected error without retry")
	}
	if got := base.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
