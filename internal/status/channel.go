package status

import (
	"maps"
	"slices"
)

// channel holds one kind of status: the to-report buffer written by the
// manager and the last-reported snapshot. Not safe for concurrent use; the
// Reporter serializes access.
type channel[T any] struct {
	toReport map[string]T
	dirty    map[string]bool
	reported map[string]T
	diff     func(prev, next T) map[string]any
}

func newChannel[T any](diff func(prev, next T) map[string]any) *channel[T] {
	return &channel[T]{
		toReport: make(map[string]T),
		dirty:    make(map[string]bool),
		reported: make(map[string]T),
		diff:     diff,
	}
}

// current returns the latest known record for id.
func (c *channel[T]) current(id string) (T, bool) {
	v, ok := c.toReport[id]
	return v, ok
}

func (c *channel[T]) set(id string, v T) {
	c.toReport[id] = v
	c.dirty[id] = true
}

func (c *channel[T]) remove(id string) {
	delete(c.toReport, id)
	c.dirty[id] = true
}

func (c *channel[T]) pending() bool {
	return len(c.dirty) > 0
}

// collect turns the dirty entries into a change-set and advances the
// last-reported snapshot. Entries are emitted in id order.
func (c *channel[T]) collect() []Change {
	var changes []Change
	for _, id := range slices.Sorted(maps.Keys(c.dirty)) {
		next, present := c.toReport[id]
		prev, reported := c.reported[id]

		switch {
		case !present && reported:
			changes = append(changes, Change{ID: id, Type: ChangeDelete})
			delete(c.reported, id)
		case !present:
			// Never reported, nothing to delete.
		case !reported:
			changes = append(changes, Change{ID: id, Type: ChangeInsert, Status: next})
			c.reported[id] = next
		default:
			if d := c.diff(prev, next); len(d) > 0 {
				changes = append(changes, Change{ID: id, Type: ChangeUpdate, Status: d})
			}
			c.reported[id] = next
		}
	}
	clear(c.dirty)
	return changes
}

func (c *channel[T]) snapshot() map[string]T {
	return maps.Clone(c.reported)
}

func (c *channel[T]) reset() {
	clear(c.toReport)
	clear(c.dirty)
	clear(c.reported)
}
