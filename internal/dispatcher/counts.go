package dispatcher

import "sort"

// Counts tracks how many live registrations exist per pattern. A pattern is
// subscribed on the bus exactly while its count is above zero.
type Counts struct {
	n map[string]int
}

// NewCounts returns an empty table.
func NewCounts() *Counts {
	return &Counts{n: make(map[string]int)}
}

// Acquire increments the count and reports the 0->1 transition.
func (c *Counts) Acquire(pattern string) bool {
	c.n[pattern]++
	return c.n[pattern] == 1
}

// Release decrements the count and reports the 1->0 transition. Releasing a
// pattern with no registrations does nothing.
func (c *Counts) Release(pattern string) bool {
	cur, ok := c.n[pattern]
	if !ok {
		return false
	}
	if cur <= 1 {
		delete(c.n, pattern)
		return true
	}
	c.n[pattern] = cur - 1
	return false
}

// Count returns the live registrations for pattern.
func (c *Counts) Count(pattern string) int { return c.n[pattern] }

// Patterns returns every pattern with a positive count, sorted.
func (c *Counts) Patterns() []string {
	out := make([]string, 0, len(c.n))
	for p := range c.n {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
