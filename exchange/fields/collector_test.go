package fields

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type stubSource struct {
	set Set
	err error
}

func (s stubSource) FetchDirectionFields(context.Context, string) (Set, error) {
	return s.set, s.err
}

type chanPersister struct {
	got chan ProfileUpdate
	err error
}

func (p chanPersister) SaveIdentityProfile(_ context.Context, _ int64, u ProfileUpdate) error {
	p.got <- u
	return p.err
}

func TestLoadWrapsSourceError(t *testing.T) {
	c := NewCollector(stubSource{err: errors.New("timeout")}, Options{})
	if _, err := c.Load(context.Background(), "1"); !errors.Is(err, ErrFieldsUnavailable) {
		t.Fatalf("err = %v, want ErrFieldsUnavailable", err)
	}
}

func TestAutoSkipTelegramOnly(t *testing.T) {
	c := NewCollector(nil, Options{})
	form := c.NewForm(Set{Optional: []Field{{Name: "tg", Label: "Telegram"}}}, Identity{Handle: "bob"})
	if !form.AutoSkip() {
		t.Fatal("form with only a telegram field must auto-skip")
	}
	sub, err := form.Submit(nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := map[string]string{"tg": "@bob"}; !reflect.DeepEqual(sub.Values, want) {
		t.Fatalf("values = %v, want %v", sub.Values, want)
	}
	if !sub.Profile.Empty() {
		t.Fatalf("unexpected profile update: %+v", sub.Profile)
	}
}

func TestInitialize(t *testing.T) {
	c := NewCollector(nil, Options{})
	fields := []Field{
		{Name: "tg", Label: "Ваш Telegram"},
		{Name: "fio", Label: "ФИО получателя"},
		{Name: "mail", Label: "E-mail"},
		{Name: "card", Label: "Номер карты"},
	}
	got := c.Initialize(fields, Identity{Handle: "@alice", FullName: "Alice Doe", Email: "a@x.io"})
	want := map[string]string{"tg": "@alice", "fio": "Alice Doe", "mail": "a@x.io", "card": ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Initialize = %v, want %v", got, want)
	}
	if got := c.Initialize(fields[:1], Identity{}); got["tg"] != "" {
		t.Fatalf("telegram without handle = %q", got["tg"])
	}
}

func TestSubmitEmailValidation(t *testing.T) {
	c := NewCollector(nil, Options{})
	form := c.NewForm(Set{Required: []Field{{Name: "email", Label: "Email", Required: true}}}, Identity{})

	cases := []struct {
		value string
		want  error
	}{
		{"not-an-email", ErrInvalidEmail},
		{"", ErrFieldRequired},
		{"   ", ErrFieldRequired},
		{"a@b.com", nil},
	}
	for _, tc := range cases {
		sub, err := form.Submit(map[string]string{"email": tc.value})
		if tc.want == nil {
			if err != nil {
				t.Fatalf("Submit(%q): %v", tc.value, err)
			}
			if sub.Values["email"] != tc.value {
				t.Fatalf("values = %v", sub.Values)
			}
			continue
		}
		var verrs ValidationErrors
		if !errors.As(err, &verrs) || !errors.Is(verrs["email"], tc.want) {
			t.Fatalf("Submit(%q) err = %v, want %v", tc.value, err, tc.want)
		}
	}
}

func TestSubmitReportsAllErrors(t *testing.T) {
	c := NewCollector(nil, Options{})
	form := c.NewForm(Set{
		Required: []Field{
			{Name: "card", Label: "Номер карты", Required: true},
			{Name: "phone", Label: "Телефон", Required: true},
		},
		Optional: []Field{
			{Name: "mail", Label: "Email"},
			{Name: "comment", Label: "Комментарий"},
		},
	}, Identity{})

	_, err := form.Submit(map[string]string{"phone": "12ab", "mail": "x@"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v", err)
	}
	want := ValidationErrors{"card": ErrFieldRequired, "phone": ErrInvalidPhone, "mail": ErrInvalidEmail}
	if len(verrs) != len(want) {
		t.Fatalf("errors = %v, want %v", verrs, want)
	}
	for name, e := range want {
		if !errors.Is(verrs[name], e) {
			t.Fatalf("%s: %v, want %v", name, verrs[name], e)
		}
	}
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatal("errors.Is should see per-field errors")
	}
}

func TestSubmitProfileUpdate(t *testing.T) {
	c := NewCollector(nil, Options{})
	form := c.NewForm(Set{Required: []Field{
		{Name: "fio", Label: "ФИО", Required: true},
		{Name: "mail", Label: "Email", Required: true},
		{Name: "phone", Label: "Phone", Required: true},
	}}, Identity{FullName: "Old Name", Email: "same@x.io"})

	sub, err := form.Submit(map[string]string{"fio": " New Name ", "phone": "+7 (900) 123-45-67"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Profile != (ProfileUpdate{FullName: "New Name"}) {
		t.Fatalf("profile = %+v", sub.Profile)
	}
	if sub.Values["mail"] != "same@x.io" || sub.Values["fio"] != "New Name" {
		t.Fatalf("values = %v", sub.Values)
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	p := chanPersister{got: make(chan ProfileUpdate, 1), err: errors.New("db down")}
	c := NewCollector(nil, Options{Persister: p})
	c.Persist(context.Background(), 42, ProfileUpdate{Email: "a@b.com"})
	select {
	case u := <-p.got:
		if u.Email != "a@b.com" {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("persister not called")
	}

	c.Persist(context.Background(), 42, ProfileUpdate{})
	select {
	case u := <-p.got:
		t.Fatalf("empty update persisted: %+v", u)
	case <-time.After(20 * time.Millisecond):
	}
}

type recordingRunner struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (r *recordingRunner) Enqueue(_ context.Context, action, _ string, run func() error) error {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	_ = run()
	return nil
}

func TestPersistGoesThroughRunner(t *testing.T) {
	p := chanPersister{got: make(chan ProfileUpdate, 2)}
	r := &recordingRunner{}
	c := NewCollector(nil, Options{Persister: p, Runner: r})

	c.Persist(context.Background(), 42, ProfileUpdate{FullName: "Ivan Petrov"})
	select {
	case u := <-p.got:
		if u.FullName != "Ivan Petrov" {
			t.Fatalf("update = %+v", u)
		}
	default:
		t.Fatal("runner did not run the save")
	}
	if len(r.actions) != 1 || r.actions[0] != "fields.profile_save" {
		t.Fatalf("actions = %v", r.actions)
	}

	c.SetRunner(&recordingRunner{err: errors.New("queue full")})
	c.Persist(context.Background(), 42, ProfileUpdate{Email: "a@b.com"})
	select {
	case u := <-p.got:
		if u.Email != "a@b.com" {
			t.Fatalf("fallback update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("save dropped when the queue refused it")
	}
}
