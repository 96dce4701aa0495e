package order

import "strings"

// Status is the coarse category of an order status title.
type Status int

const (
	// StatusUnknown is a title that matched no keyword set.
	StatusUnknown Status = iota
	StatusWaiting
	StatusSettled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the order may still be paid and should be tracked.
// Unknown titles are tracked like waiting ones.
func (s Status) Active() bool { return s == StatusWaiting || s == StatusUnknown }

// Keywords are lower-case substrings identifying each status category.
type Keywords struct {
	Waiting []string
	Settled []string
	Failed  []string
}

// DefaultKeywords covers the Russian and English titles of PremiumExchanger.
func DefaultKeywords() Keywords {
	return Keywords{
		Settled: []string{"оплач", "выполн", "paid", "done", "complet", "success"},
		Failed:  []string{"ошибк", "отмен", "удал", "error", "cancel", "reject", "expired", "fail"},
		Waiting: []string{"ожида", "нов", "принят", "обработ", "waiting", "pending", "new", "process"},
	}
}

// StatusClassifier maps status titles to a Status.
type StatusClassifier struct {
	kw Keywords
}

// NewStatusClassifier builds a classifier. Empty keyword lists fall back to
// the defaults of that category.
func NewStatusClassifier(kw Keywords) *StatusClassifier {
	def := DefaultKeywords()
	return &StatusClassifier{kw: Keywords{
		Waiting: normalizeKeywords(kw.Waiting, def.Waiting),
		Settled: normalizeKeywords(kw.Settled, def.Settled),
		Failed:  normalizeKeywords(kw.Failed, def.Failed),
	}}
}

// Classify checks settled, then failed, then waiting keywords.
func (c *StatusClassifier) Classify(title string) Status {
	t := strings.ToLower(title)
	switch {
	case containsAny(t, c.kw.Settled):
		return StatusSettled
	case containsAny(t, c.kw.Failed):
		return StatusFailed
	case containsAny(t, c.kw.Waiting):
		return StatusWaiting
	default:
		return StatusUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func normalizeKeywords(in, fallback []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
