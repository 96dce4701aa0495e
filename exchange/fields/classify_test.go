package fields

import "testing"

func TestDefaultClassifier(t *testing.T) {
	c := NewKeywordClassifier(DefaultRules()...)
	cases := map[string]Kind{
		"Telegram":             KindTelegram,
		"Ваш ник в Телеграм":   KindTelegram,
		"E-mail":               KindEmail,
		"Электронная почта":    KindEmail,
		"Номер телефона":       KindPhone,
		"Phone number":         KindPhone,
		"Номер карты":          KindAccount,
		"Wallet address":       KindAccount,
		"ФИО":                  KindName,
		"Full name":            KindName,
		"Комментарий к заявке": KindGeneric,
	}
	for label, want := range cases {
		if got := c.Classify(label); got != want {
			t.Errorf("Classify(%q) = %s, want %s", label, got, want)
		}
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	c := WithOverrides([]Rule{{Kind: KindPhone, Keywords: []string{" WhatsApp "}}})
	if got := c.Classify("WhatsApp контакт"); got != KindPhone {
		t.Fatalf("override ignored: %s", got)
	}
	if got := c.Classify("Email"); got != KindEmail {
		t.Fatalf("defaults lost: %s", got)
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind(" Email "); !ok || k != KindEmail {
		t.Fatalf("ParseKind = %v, %v", k, ok)
	}
	if _, ok := ParseKind("fax"); ok {
		t.Fatal("unknown kind accepted")
	}
	if s := Kind(42).String(); s != "unknown" {
		t.Fatalf("String = %q", s)
	}
}

func TestClassifierFunc(t *testing.T) {
	c := NewCollector(nil, Options{Classifier: ClassifierFunc(func(string) Kind { return KindTelegram })})
	if !c.NewForm(Set{Required: []Field{{Name: "x", Label: "anything", Required: true}}}, Identity{}).AutoSkip() {
		t.Fatal("custom classifier not used")
	}
}
