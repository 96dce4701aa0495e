package router

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	tg "github.com/m3rciful/swapbot/core/telegram"
	"github.com/m3rciful/swapbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

type okTransport struct{}

func (okTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true,"result":true}`)),
	}, nil
}

// offlineBot answers every API call with ok so handlers can respond.
func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true, Client: &http.Client{Transport: okTransport{}}})
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	return b
}

func textContext(t *testing.T, text string) tele.Context {
	t.Helper()
	return offlineBot(t).NewContext(tele.Update{
		ID: 10,
		Message: &tele.Message{
			Sender: &tele.User{ID: 7},
			Chat:   &tele.Chat{ID: 7},
			Text:   text,
		},
	})
}

type fakeFSM struct {
	active bool
	calls  int
}

func (f *fakeFSM) InProgress(int64) bool { return f.active }

func (f *fakeFSM) ManagerHandler(tele.Context) error {
	f.calls++
	return nil
}

func TestTextRoutesPrecedence(t *testing.T) {
	var got []string
	reg := tg.NewRegistry()
	reg.RegisterCommand("/history", commands.Command{
		Handler:     func(tele.Context) error { got = append(got, "history"); return nil },
		Description: "History",
		Aliases:     []string{"📜 История"},
	})
	reg.SetTextFallback(func(tele.Context) error { got = append(got, "fallback"); return nil })

	fsm := &fakeFSM{}
	routes := TextRoutes(fsm, reg, TextOptions{})
	if len(routes) != 1 || routes[0].Endpoint != tele.OnText {
		t.Fatalf("routes = %+v", routes)
	}
	h := routes[0].Handler

	for _, text := range []string{"📜 История", "history", "150"} {
		if err := h(textContext(t, text)); err != nil {
			t.Fatalf("handler(%q) returned error: %v", text, err)
		}
	}
	want := []string{"history", "history", "fallback"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("dispatch = %v, want %v", got, want)
	}

	fsm.active = true
	if err := h(textContext(t, "📜 История")); err != nil {
		t.Fatalf("fsm handler returned error: %v", err)
	}
	if fsm.calls != 1 || len(got) != 3 {
		t.Fatalf("active FSM step should win: fsm calls = %d, dispatch = %v", fsm.calls, got)
	}
}

func TestTextRoutesUnknownText(t *testing.T) {
	called := false
	h := TextRoutes(nil, nil, TextOptions{UnknownText: func(tele.Context) error { called = true; return nil }})[0].Handler
	if err := h(textContext(t, "hello")); err != nil || !called {
		t.Fatalf("unknown text handler: called = %v err = %v", called, err)
	}
}

func TestCallbackRouteDispatch(t *testing.T) {
	reg := tg.NewRegistry()
	boom := errors.New("boom")
	var payload string
	if err := reg.RegisterCallback("give", func(c tele.Context) error {
		payload = c.Callback().Data
		return boom
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	notFound := 0
	reg.SetCallbackNotFound(func(tele.Context) error { notFound++; return nil })
	h := CallbackRoute(reg, CallbackOptions{}).Handler

	c := offlineBot(t).NewContext(tele.Update{
		ID:       11,
		Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Data: "\fgive|3"},
	})
	if err := h(c); !errors.Is(err, boom) {
		t.Fatalf("handler error = %v, want boom", err)
	}
	if payload != "\fgive|3" {
		t.Fatalf("callback data = %q", payload)
	}

	stale := offlineBot(t).NewContext(tele.Update{
		ID:       12,
		Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Data: "\fgone|1"},
	})
	if err := h(stale); err != nil {
		t.Fatalf("not-found handler returned error: %v", err)
	}
	if notFound != 1 {
		t.Fatalf("not-found handler calls = %d", notFound)
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "amount below min" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", codedErr{}), "AMOUNT_BELOW_MIN"},
		{&plainErr{}, "PLAINERR"},
		{errors.New("x"), "ERRORSTRING"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Errorf("errorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if got := handlerName(" /Start Over "); got != "start_over" {
		t.Fatalf("handlerName = %q", got)
	}
	if got := handlerName(""); got != "unknown" {
		t.Fatalf("empty handlerName = %q", got)
	}
}
