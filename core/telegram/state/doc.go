// Package state provides a small per-user FSM for multi-step text input.
package state
