package bus

import "sync"

// subscriberIndex maps channel names to the sessions currently WAITING on
// them. It is process-local and rebuildable: authoritative cursor state
// lives with clients and the backend, never here.
type subscriberIndex struct {
	mu      sync.RWMutex
	waiting map[string]map[*session]struct{}
}

func newSubscriberIndex() *subscriberIndex {
	return &subscriberIndex{waiting: map[string]map[*session]struct{}{}}
}

// add registers the session under every channel it polls.
func (i *subscriberIndex) add(s *session) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ch := range s.cursors {
		set := i.waiting[ch]
		if set == nil {
			set = map[*session]struct{}{}
			i.waiting[ch] = set
		}
		set[s] = struct{}{}
	}
}

// remove deregisters the session from every channel it polls. Safe to call
// more than once.
func (i *subscriberIndex) remove(s *session) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ch := range s.cursors {
		set := i.waiting[ch]
		if set == nil {
			continue
		}
		delete(set, s)
		if len(set) == 0 {
			delete(i.waiting, ch)
		}
	}
}

// lookup snapshots the sessions waiting on a channel so dispatch can iterate
// without holding the lock.
func (i *subscriberIndex) lookup(channel string) []*session {
	i.mu.RLock()
	defer i.mu.RUnlock()
	set := i.waiting[channel]
	if len(set) == 0 {
		return nil
	}
	out := make([]*session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// count returns how many sessions wait on a channel.
func (i *subscriberIndex) count(channel string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.waiting[channel])
}
