package order

import "testing"

func TestStatusClassifier(t *testing.T) {
	c := NewStatusClassifier(Keywords{})
	cases := map[string]Status{
		"Ожидает оплаты":      StatusWaiting,
		"Новая заявка":        StatusWaiting,
		"Awaiting payment":    StatusWaiting,
		"Оплачена":            StatusSettled,
		"Выполнена":           StatusSettled,
		"Order completed":     StatusSettled,
		"Отменена":            StatusFailed,
		"Ошибка платежа":      StatusFailed,
		"Rejected by AML":     StatusFailed,
		"Zahlung eingegangen": StatusUnknown,
	}
	for title, want := range cases {
		if got := c.Classify(title); got != want {
			t.Errorf("Classify(%q) = %s, want %s", title, got, want)
		}
	}
}

func TestStatusClassifierOverrides(t *testing.T) {
	c := NewStatusClassifier(Keywords{Settled: []string{" Bezahlt "}})
	if got := c.Classify("Bezahlt"); got != StatusSettled {
		t.Fatalf("override ignored: %s", got)
	}
	if got := c.Classify("Оплачена"); got != StatusUnknown {
		t.Fatalf("settled defaults should be replaced: %s", got)
	}
	if got := c.Classify("Отменена"); got != StatusFailed {
		t.Fatalf("failed defaults lost: %s", got)
	}
}
