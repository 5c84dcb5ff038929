package config

import (
	"testing"
	"time"
)

func TestIntAndDuration(t *testing.T) {
	t.Setenv("TB_INT", "42")
	t.Setenv("TB_BAD_INT", "x")
	t.Setenv("TB_DUR", "90s")

	if n, err := Int("TB_INT", 1); err != nil || n != 42 {
		t.Fatalf("Int = %d, %v; want 42", n, err)
	}
	if n, err := Int("TB_MISSING", 7); err != nil || n != 7 {
		t.Fatalf("Int fallback = %d, %v; want 7", n, err)
	}
	if _, err := Int("TB_BAD_INT", 1); err == nil {
		t.Fatal("expected error for non-integer value")
	}
	if d, err := Duration("TB_DUR", time.Second); err != nil || d != 90*time.Second {
		t.Fatalf("Duration = %s, %v; want 90s", d, err)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TB_ON", "TRUE")
	t.Setenv("TB_OFF", "0")
	t.Setenv("TB_LIST", " a, ,b ")

	if !Bool("TB_ON", false) {
		t.Fatal("expected TB_ON to be true")
	}
	if Bool("TB_OFF", true) {
		t.Fatal("expected TB_OFF to be false")
	}
	if !Bool("TB_UNSET", true) {
		t.Fatal("expected fallback true")
	}
	got := List("TB_LIST", "")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("List = %v, want [a b]", got)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TB_PORT", "70000")
	if _, err := Port("TB_PORT", "8080"); err == nil {
		t.Fatal("expected invalid port error")
	}
	if p, err := Port("TB_PORT_UNSET", "8085"); err != nil || p != "8085" {
		t.Fatalf("Port fallback = %q, %v", p, err)
	}
}
