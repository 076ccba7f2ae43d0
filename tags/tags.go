// Package tags provides an indexed tag-membership registry. Each tag keeps
// its members partitioned into an enabled and a disabled set, with idempotent
// try-operations for moving members between the two.
package tags

import "sync"

// A Registry indexes members of type M by tag. All operations are safe for
// concurrent use.
type Registry[M comparable] struct {
	mu       sync.RWMutex
	enabled  map[string]map[M]struct{}
	disabled map[string]map[M]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry[M comparable]() *Registry[M] {
	return &Registry[M]{
		enabled:  make(map[string]map[M]struct{}),
		disabled: make(map[string]map[M]struct{}),
	}
}

// Add tags m with tag in the enabled state. Adding an already-tagged member
// is a no-op and keeps its current state.
func (r *Registry[M]) Add(m M, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if containsMember(r.enabled, tag, m) ||
		containsMember(r.disabled, tag, m) {
		return
	}

	addMember(r.enabled, tag, m)
}

// Remove drops the tag from m entirely, whatever its state, and reports
// whether m carried the tag.
func (r *Registry[M]) Remove(m M, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := removeMember(r.enabled, tag, m)
	removed = removeMember(r.disabled, tag, m) || removed

	return removed
}

// TryEnable moves m's tag from the disabled to the enabled set. It returns
// true only when the move happened: an untagged member or an already-enabled
// tag returns false and changes nothing.
func (r *Registry[M]) TryEnable(m M, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !removeMember(r.disabled, tag, m) {
		return false
	}

	addMember(r.enabled, tag, m)

	return true
}

// TryDisable moves m's tag from the enabled to the disabled set. It returns
// true only when the move happened.
func (r *Registry[M]) TryDisable(m M, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !removeMember(r.enabled, tag, m) {
		return false
	}

	addMember(r.disabled, tag, m)

	return true
}

// Has reports whether m carries tag in the enabled state.
func (r *Registry[M]) Has(m M, tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return containsMember(r.enabled, tag, m)
}

// Members returns the enabled members of tag. Order is unspecified.
func (r *Registry[M]) Members(tag string) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.enabled[tag]
	members := make([]M, 0, len(set))
	for m := range set {
		members = append(members, m)
	}

	return members
}

// Tags returns the tags m carries in the enabled state. Order is unspecified.
func (r *Registry[M]) Tags(m M) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tags []string
	for tag, set := range r.enabled {
		if _, ok := set[m]; ok {
			tags = append(tags, tag)
		}
	}

	return tags
}

func addMember[M comparable](index map[string]map[M]struct{}, tag string, m M) {
	set, ok := index[tag]
	if !ok {
		set = make(map[M]struct{})
		index[tag] = set
	}

	set[m] = struct{}{}
}

func removeMember[M comparable](
	index map[string]map[M]struct{},
	tag string,
	m M,
) bool {
	set, ok := index[tag]
	if !ok {
		return false
	}

	if _, ok := set[m]; !ok {
		return false
	}

	delete(set, m)
	if len(set) == 0 {
		delete(index, tag)
	}

	return true
}

func containsMember[M comparable](
	index map[string]map[M]struct{},
	tag string,
	m M,
) bool {
	_, ok := index[tag][m]

	return ok
}
