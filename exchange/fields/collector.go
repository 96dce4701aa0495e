// Package fields collects the dynamic submission fields of an exchange
// direction: it classifies them by label, auto-fills known identity data and
// validates user input.
package fields

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
)

var (
	// ErrFieldsUnavailable wraps failures of the fields source.
	ErrFieldsUnavailable = errors.New("fields: direction fields unavailable")
	// ErrFieldRequired marks an empty required field.
	ErrFieldRequired = errors.New("fields: value required")
	// ErrInvalidPhone marks a value that does not look like a phone number.
	ErrInvalidPhone = errors.New("fields: invalid phone")
	// ErrInvalidEmail marks a value that does not look like an e-mail address.
	ErrInvalidEmail = errors.New("fields: invalid email")
)

var (
	phonePattern = regexp.MustCompile(`^\+?[\d\s()\-]{7,20}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Field is a submission field of a direction.
type Field struct {
	Name     string
	Label    string
	Type     string
	Required bool
}

// Set holds the fields of a direction partitioned at fetch time.
type Set struct {
	Required []Field
	Optional []Field
}

// All returns required fields followed by optional ones.
func (s Set) All() []Field {
	out := make([]Field, 0, len(s.Required)+len(s.Optional))
	out = append(out, s.Required...)
	return append(out, s.Optional...)
}

// Identity is what the host environment knows about the requester.
type Identity struct {
	Handle   string
	FullName string
	Email    string
}

// Source fetches the fields of a direction.
type Source interface {
	FetchDirectionFields(ctx context.Context, directionID string) (Set, error)
}

// ProfileUpdate names the identity values worth saving for future auto-fill.
// Empty strings mean "unchanged".
type ProfileUpdate struct {
	FullName string
	Email    string
}

// Empty reports whether there is nothing to save.
func (u ProfileUpdate) Empty() bool { return u.FullName == "" && u.Email == "" }

// Persister stores identity profile updates.
type Persister interface {
	SaveIdentityProfile(ctx context.Context, requesterID int64, update ProfileUpdate) error
}

// ValidationErrors maps field names to ErrFieldRequired, ErrInvalidPhone or
// ErrInvalidEmail.
type ValidationErrors map[string]error

func (v ValidationErrors) Error() string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+v[name].Error())
	}
	return "fields: validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-field errors to errors.Is.
func (v ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(v))
	for _, err := range v {
		out = append(out, err)
	}
	return out
}

// Runner queues background jobs. *sender.Dispatcher satisfies it.
type Runner interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
}

// Options configures a Collector.
type Options struct {
	// Classifier defaults to the built-in keyword rules.
	Classifier Classifier
	Persister  Persister
	// Runner executes profile saves; without one they run on their own goroutine.
	Runner Runner
}

// Collector loads and classifies fields and persists identity updates.
type Collector struct {
	src        Source
	classifier Classifier
	persister  Persister

	mu     sync.RWMutex
	runner Runner
}

// NewCollector returns a Collector around src.
func NewCollector(src Source, opts Options) *Collector {
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier(DefaultRules()...)
	}
	return &Collector{src: src, classifier: opts.Classifier, persister: opts.Persister, runner: opts.Runner}
}

// SetRunner replaces the runner used by Persist.
func (c *Collector) SetRunner(r Runner) {
	c.mu.Lock()
	c.runner = r
	c.mu.Unlock()
}

// Load fetches the fields of a direction.
func (c *Collector) Load(ctx context.Context, directionID string) (Set, error) {
	start := time.Now()
	set, err := c.src.FetchDirectionFields(ctx, directionID)
	if err != nil {
		logger.Warn(ctx, logger.CompFields, "fields.load",
			slog.String("direction_id", directionID),
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return Set{}, fmt.Errorf("%w: %w", ErrFieldsUnavailable, err)
	}
	logger.Debug(ctx, logger.CompFields, "fields.load",
		slog.String("direction_id", directionID),
		slog.String("status", "ok"),
		slog.Int("required", len(set.Required)),
		slog.Int("optional", len(set.Optional)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return set, nil
}

// Classify returns the kind of a label.
func (c *Collector) Classify(label string) Kind { return c.classifier.Classify(label) }

// Initialize returns the starting value of every field.
func (c *Collector) Initialize(fields []Field, id Identity) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		switch c.Classify(f.Label) {
		case KindTelegram:
			values[f.Name] = telegramValue(id.Handle)
		case KindName:
			values[f.Name] = id.FullName
		case KindEmail:
			values[f.Name] = id.Email
		default:
			values[f.Name] = ""
		}
	}
	return values
}

// Visible drops the fields whose value is derived automatically.
func (c *Collector) Visible(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if c.Classify(f.Label) != KindTelegram {
			out = append(out, f)
		}
	}
	return out
}

// NewForm prepares a form for the fields of set.
func (c *Collector) NewForm(set Set, id Identity) *Form {
	all := set.All()
	kinds := make(map[string]Kind, len(all))
	for _, f := range all {
		kinds[f.Name] = c.Classify(f.Label)
	}
	return &Form{
		fields:   all,
		visible:  c.Visible(all),
		kinds:    kinds,
		initial:  c.Initialize(all, id),
		identity: id,
	}
}

// Persist saves update in the background through the runner. Failures are
// logged and never reach the caller.
func (c *Collector) Persist(ctx context.Context, requesterID int64, update ProfileUpdate) {
	if c.persister == nil || update.Empty() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	save := func() error {
		err := c.persister.SaveIdentityProfile(ctx, requesterID, update)
		attrs := []slog.Attr{
			slog.Int64("user_id", requesterID),
			slog.Bool("full_name", update.FullName != ""),
			slog.Bool("email", update.Email != ""),
			slog.String("status", logger.Status(err)),
		}
		if err != nil {
			logger.Warn(ctx, logger.CompFields, "fields.profile_save",
				append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))...)
			return err
		}
		logger.Debug(ctx, logger.CompFields, "fields.profile_save", attrs...)
		return nil
	}

	c.mu.RLock()
	r := c.runner
	c.mu.RUnlock()
	if r != nil {
		err := r.Enqueue(ctx, "fields.profile_save", "db", save)
		if err == nil {
			return
		}
		logger.Warn(ctx, logger.CompFields, "fields.profile_queue",
			slog.String("status", "fallback"),
			slog.String("err", err.Error()),
		)
	}
	go func() { _ = save() }()
}

// Form is one fill-in of a direction's fields.
type Form struct {
	fields   []Field
	visible  []Field
	kinds    map[string]Kind
	initial  map[string]string
	identity Identity
}

// Fields returns every field of the form.
func (f *Form) Fields() []Field { return append([]Field(nil), f.fields...) }

// Visible returns the fields shown to the user.
func (f *Form) Visible() []Field { return append([]Field(nil), f.visible...) }

// Kind returns the kind of the named field.
func (f *Form) Kind(name string) Kind { return f.kinds[name] }

// AutoSkip reports whether the form needs no user input at all.
func (f *Form) AutoSkip() bool { return len(f.visible) == 0 }

// Initial returns a copy of the initialized values.
func (f *Form) Initial() map[string]string {
	out := make(map[string]string, len(f.initial))
	for k, v := range f.initial {
		out[k] = v
	}
	return out
}

// Submission is the accepted result of a form.
type Submission struct {
	Values  map[string]string
	Profile ProfileUpdate
}

// Submit validates values of the visible fields. Values of hidden fields
// always come from initialization. On failure every offending field is
// reported in ValidationErrors and nothing is returned.
func (f *Form) Submit(values map[string]string) (Submission, error) {
	merged := f.Initial()
	for _, field := range f.visible {
		if v, ok := values[field.Name]; ok {
			merged[field.Name] = v
		}
	}

	verrs := ValidationErrors{}
	for _, field := range f.visible {
		v := strings.TrimSpace(merged[field.Name])
		switch {
		case v == "":
			if field.Required {
				verrs[field.Name] = ErrFieldRequired
			}
		case f.kinds[field.Name] == KindPhone && !phonePattern.MatchString(v):
			verrs[field.Name] = ErrInvalidPhone
		case f.kinds[field.Name] == KindEmail && !emailPattern.MatchString(v):
			verrs[field.Name] = ErrInvalidEmail
		}
	}
	if len(verrs) > 0 {
		return Submission{}, verrs
	}

	out := Submission{Values: make(map[string]string, len(merged))}
	for name, v := range merged {
		if v = strings.TrimSpace(v); v != "" {
			out.Values[name] = v
		}
	}
	for _, field := range f.visible {
		v := out.Values[field.Name]
		switch f.kinds[field.Name] {
		case KindName:
			if v != "" && v != f.identity.FullName {
				out.Profile.FullName = v
			}
		case KindEmail:
			if v != "" && v != f.identity.Email {
				out.Profile.Email = v
			}
		}
	}
	return out, nil
}

func telegramValue(handle string) string {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return ""
	}
	return "@" + handle
}
