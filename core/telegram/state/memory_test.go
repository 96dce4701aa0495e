package state

import "testing"

func TestMemoryManagerStateAndTemp(t *testing.T) {
	m := NewMemoryManager()
	if m.InProgress(1) {
		t.Fatal("fresh user should be idle")
	}
	m.SetState(1, "amount")
	m.SetTemp(1, "pivot", "get")
	if got := m.GetState(1); got != "amount" {
		t.Fatalf("state = %q", got)
	}
	if v, ok := m.GetTemp(1, "pivot"); !ok || v != "get" {
		t.Fatalf("temp = %v, %v", v, ok)
	}

	m.ClearState(1)
	if m.InProgress(1) {
		t.Fatal("ClearState should return to idle")
	}
	if _, ok := m.GetTemp(1, "pivot"); !ok {
		t.Fatal("ClearState should keep temp data")
	}

	m.Clear(1)
	if _, ok := m.GetTemp(1, "pivot"); ok {
		t.Fatal("Clear should drop temp data")
	}
}
