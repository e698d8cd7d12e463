// Package namespace scopes event names on the shared bus so that several
// applications can use one Redis server without seeing each other's traffic.
package namespace

import "strings"

// Separator joins the prefix and the event name on the wire.
const Separator = ":"

// Mapper applies and strips a fixed prefix. The zero value maps names unchanged.
type Mapper struct {
	prefix string
}

// New returns a Mapper for prefix. An empty prefix disables scoping.
func New(prefix string) Mapper {
	if prefix == "" {
		return Mapper{}
	}
	return Mapper{prefix: prefix + Separator}
}

// Prefix returns the wire prefix including the separator, or "".
func (m Mapper) Prefix() string { return m.prefix }

// ToWire returns the bus channel for a local event name.
func (m Mapper) ToWire(name string) string {
	return m.prefix + name
}

// FromWire returns the local event name for a bus channel. Channels outside
// the namespace are returned unchanged.
func (m Mapper) FromWire(wire string) string {
	return strings.TrimPrefix(wire, m.prefix)
}

// Pattern returns the PSUBSCRIBE pattern for a local pattern. Only '*' keeps
// its glob meaning, and only inside the event name.
func (m Mapper) Pattern(name string) string {
	return escape(m.prefix, "*?[]\\") + escape(name, "?[]\\")
}

// FromPattern reverses Pattern.
func (m Mapper) FromPattern(pattern string) string {
	prefix := escape(m.prefix, "*?[]\\")
	return unescape(strings.TrimPrefix(pattern, prefix))
}

func escape(s, special string) string {
	if !strings.ContainsAny(s, special) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
