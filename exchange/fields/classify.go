package fields

import (
	"strings"
)

// Kind is the semantic class of a submission field derived from its label.
type Kind int

const (
	KindGeneric Kind = iota
	KindName
	KindEmail
	KindTelegram
	KindPhone
	KindAccount
)

var kindNames = [...]string{
	KindGeneric:  "generic",
	KindName:     "name",
	KindEmail:    "email",
	KindTelegram: "telegram",
	KindPhone:    "phone",
	KindAccount:  "account",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindGeneric, false
}

// Classifier derives a field kind from its label.
type Classifier interface {
	Classify(label string) Kind
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(label string) Kind

func (f ClassifierFunc) Classify(label string) Kind { return f(label) }

// Rule assigns Kind to labels containing any of Keywords.
type Rule struct {
	Kind     Kind
	Keywords []string
}

// DefaultRules covers the Russian and English labels used by exchangers.
// Order matters: "Номер карты" is an account, not a phone.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: KindTelegram, Keywords: []string{"telegram", "телеграм"}},
		{Kind: KindEmail, Keywords: []string{"e-mail", "email", "mail", "почт"}},
		{Kind: KindAccount, Keywords: []string{"карт", "счет", "счёт", "кошел", "реквизит", "card", "account", "wallet", "iban", "address", "адрес"}},
		{Kind: KindPhone, Keywords: []string{"телефон", "phone", "mobile", "тел."}},
		{Kind: KindName, Keywords: []string{"фио", "имя", "фамили", "отчеств", "name", "holder"}},
	}
}

// KeywordClassifier matches labels against ordered keyword rules,
// case-insensitively. The first matching rule wins.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier builds a classifier. Rules are evaluated in order.
func NewKeywordClassifier(rules ...Rule) *KeywordClassifier {
	c := &KeywordClassifier{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				kw = append(kw, k)
			}
		}
		if len(kw) > 0 {
			c.rules = append(c.rules, Rule{Kind: r.Kind, Keywords: kw})
		}
	}
	return c
}

// WithOverrides returns the default rules preceded by overrides, so that
// configured keywords take precedence over the built-in ones.
func WithOverrides(overrides []Rule) *KeywordClassifier {
	rules := append(append([]Rule(nil), overrides...), DefaultRules()...)
	return NewKeywordClassifier(rules...)
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(label string) Kind {
	l := strings.ToLower(label)
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(l, k) {
				return r.Kind
			}
		}
	}
	return KindGeneric
}
