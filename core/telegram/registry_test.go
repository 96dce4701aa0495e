package telegram

import (
	"testing"

	"github.com/m3rciful/swapbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	h := func(tele.Context) error { return nil }
	reg.RegisterCommand("/start", commands.Command{Handler: h, Description: "Start"})
	reg.RegisterCommand("/new", commands.Command{Handler: h, Description: "New exchange", Aliases: []string{"🔄 New exchange"}})
	reg.RegisterCommand("/reload", commands.Command{Handler: h, Description: "Reload", AdminOnly: true})
	reg.RegisterCommand("nostart", commands.Command{Handler: h, Description: "skipped"})

	visible := reg.ListCommands(true)
	if len(visible) != 2 || visible[0].Text != "/new" || visible[1].Text != "/start" {
		t.Fatalf("visible = %+v", visible)
	}
	if key, _, ok := reg.LookupCommand("🔄 New exchange"); !ok || key != "/new" {
		t.Fatalf("alias lookup = %q, %v", key, ok)
	}
	if _, _, ok := reg.LookupCommand("nostart"); ok {
		t.Fatal("command without slash must not be registered")
	}
}

func TestRegistryCallbacks(t *testing.T) {
	reg := NewRegistry()
	h := func(tele.Context) error { return nil }
	if err := reg.RegisterCallback("give", h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.RegisterCallback("give", h); err == nil {
		t.Fatal("duplicate callback accepted")
	}
	if _, ok := reg.GetCallback("give"); !ok {
		t.Fatal("callback not found")
	}
	if reg.CallbackNotFound() == nil {
		t.Fatal("default not-found handler missing")
	}
}
