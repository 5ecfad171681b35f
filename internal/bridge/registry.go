package bridge

import (
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/mqtt"
)

// Registry maps topic filters to the groups subscribed to them.
//
// A filter is present exactly while at least one group is subscribed to it;
// callers use the return values of Subscribe and Unsubscribe to decide when a
// broker-level subscribe or unsubscribe is needed.
//
// Thread Safety: All methods are safe for concurrent use. Readers never
// observe a partially applied update.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds group to filter. It reports true when filter was not
// present before, meaning the broker must be subscribed. Adding a group
// that is already subscribed is a no-op.
func (r *Registry) Subscribe(filter, group string) (isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, exists := r.subs[filter]
	if !exists {
		groups = make(map[string]struct{})
		r.subs[filter] = groups
	}
	groups[group] = struct{}{}

	return !exists
}

// Unsubscribe removes group from filter. It reports true when that left the
// filter without groups and the entry was deleted, meaning the broker
// subscription should be dropped.
func (r *Registry) Unsubscribe(filter, group string) (removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups, exists := r.subs[filter]
	if !exists {
		return false
	}
	if _, ok := groups[group]; !ok {
		return false
	}

	delete(groups, group)
	if len(groups) == 0 {
		delete(r.subs, filter)
		return true
	}
	return false
}

// MatchingGroups returns the sorted, de-duplicated groups of every filter
// that matches topic.
func (r *Registry) MatchingGroups(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for filter, groups := range r.subs {
		if filter != topic && !mqtt.Matches(filter, topic) {
			continue
		}
		for group := range groups {
			seen[group] = struct{}{}
		}
	}

	return sortedKeys(seen)
}

// Filters returns every registered filter, sorted.
func (r *Registry) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.subs))
	for filter := range r.subs {
		filters = append(filters, filter)
	}
	sort.Strings(filters)
	return filters
}

// Groups returns the groups subscribed to filter, sorted. Nil if none.
func (r *Registry) Groups(filter string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups, exists := r.subs[filter]
	if !exists {
		return nil
	}
	return sortedKeys(groups)
}

// Len returns the number of registered filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
