package namespace

import "testing"

func TestToWireFromWire(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		wire   string
	}{
		{"", "userCreated", "userCreated"},
		{"app", "userCreated", "app:userCreated"},
		{"app", "order.*", "app:order.*"},
		{"a:b", "x", "a:b:x"},
	}
	for _, tt := range tests {
		m := New(tt.prefix)
		if got := m.ToWire(tt.name); got != tt.wire {
			t.Fatalf("ToWire(%q) with prefix %q: expected %q got %q", tt.name, tt.prefix, tt.wire, got)
		}
		if got := m.FromWire(tt.wire); got != tt.name {
			t.Fatalf("FromWire(%q) with prefix %q: expected %q got %q", tt.wire, tt.prefix, tt.name, got)
		}
	}
}

func TestFromWireWithoutPrefix(t *testing.T) {
	m := New("app")
	if got := m.FromWire("other:userCreated"); got != "other:userCreated" {
		t.Fatalf("expected wire name unchanged, got %q", got)
	}
	// only a leading prefix is stripped
	if got := m.FromWire("x.app:y"); got != "x.app:y" {
		t.Fatalf("expected wire name unchanged, got %q", got)
	}
}

func TestPattern(t *testing.T) {
	tests := []struct {
		prefix  string
		name    string
		pattern string
	}{
		{"", "order.*", "order.*"},
		{"app", "order.*", "app:order.*"},
		{"app", "what?", `app:what\?`},
		{"app", "list[0]", `app:list\[0\]`},
		{"a*b", "x.*", `a\*b:x.*`},
		{"", `back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		m := New(tt.prefix)
		got := m.Pattern(tt.name)
		if got != tt.pattern {
			t.Fatalf("Pattern(%q) with prefix %q: expected %q got %q", tt.name, tt.prefix, tt.pattern, got)
		}
		if back := m.FromPattern(got); back != tt.name {
			t.Fatalf("FromPattern(%q): expected %q got %q", got, tt.name, back)
		}
	}
}

func TestZeroMapper(t *testing.T) {
	var m Mapper
	if m.Prefix() != "" || m.ToWire("x") != "x" || m.FromWire("x") != "x" {
		t.Fatal("zero mapper should not scope names")
	}
}
