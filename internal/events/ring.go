package events

import "sync"

// ActivityRing is a fixed-capacity ring of recent activities. When full, the
// oldest entry is dropped. Contents are in-memory only and start empty on
// every process restart.
type ActivityRing struct {
	mu       sync.RWMutex
	entries  []*Activity
	capacity int
	start    int // index of oldest entry
	count    int
}

// NewActivityRing creates a ring with the given capacity.
func NewActivityRing(capacity int) *ActivityRing {
	if capacity <= 0 {
		capacity = 50
	}
	return &ActivityRing{
		entries:  make([]*Activity, capacity),
		capacity: capacity,
	}
}

// Add appends an activity, dropping the oldest when the ring is full.
func (r *ActivityRing) Add(activity *Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.capacity {
		r.entries[(r.start+r.count)%r.capacity] = activity
		r.count++
		return
	}
	r.entries[r.start] = activity
	r.start = (r.start + 1) % r.capacity
}

// Snapshot returns the current contents, oldest first.
func (r *ActivityRing) Snapshot() []*Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Activity, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(r.start+i)%r.capacity])
	}
	return out
}

// Len returns the number of buffered activities.
func (r *ActivityRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the fixed capacity of the ring.
func (r *ActivityRing) Capacity() int {
	return r.capacity
}
