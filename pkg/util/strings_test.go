package util

import "testing"

func TestParseIntDefault(t *testing.T) {
    if got := ParseIntDefault("42", 7); got != 42 {
        t.Fatalf("got %d, want 42", got)
    }
    if got := ParseIntDefault("", 7); got != 7 {
        t.Fatalf("got %d, want default 7", got)
    }
    if got := ParseIntDefault("abc", 7); got != 7 {
        t.Fatalf("got %d, want default 7", got)
    }
}

func TestParseFloatDefault(t *testing.T) {
    if got := ParseFloatDefault("99.5", 1); got != 99.5 {
        t.Fatalf("got %v, want 99.5", got)
    }
    if got := ParseFloatDefault("oops", 1); got != 1 {
        t.Fatalf("got %v, want default 1", got)
    }
}
