package core

// Event is a named event delivered to local listeners.
type Event struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// Arg returns the i-th positional argument or nil when out of range.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Len returns the number of arguments carried by the event.
func (e Event) Len() int { return len(e.Args) }

// Listener receives events dispatched under a pattern it was registered on.
type Listener func(ev Event)
