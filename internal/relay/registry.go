package relay

import "sync"

// Handle is the registry's view of one live connection. Enqueue must never
// block: a slow consumer is reported as a failed delivery instead of
// stalling the caller.
type Handle interface {
	// Enqueue hands a payload to the connection's write loop. Returns false
	// when the outbound queue is full.
	Enqueue(payload []byte) bool

	// Close tears the connection down. Safe to call more than once.
	Close(reason string)
}

// Registry is the single source of truth for which participants are online.
// It owns the participant-id → handle map plus the admin/customer partition
// sets; a participant is classified once at connect time and belongs to
// exactly one set until it disconnects.
type Registry struct {
	mu        sync.Mutex
	conns     map[int64]Handle
	admins    map[int64]struct{}
	customers map[int64]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[int64]Handle),
		admins:    make(map[int64]struct{}),
		customers: make(map[int64]struct{}),
	}
}

// Register inserts the handle for userPK, last writer wins. A previously
// registered handle for the same participant is closed so the stale
// connection's loops terminate instead of leaking.
func (r *Registry) Register(userPK int64, h Handle, isAdmin bool) {
	r.mu.Lock()
	prev := r.conns[userPK]
	r.conns[userPK] = h
	delete(r.admins, userPK)
	delete(r.customers, userPK)
	if isAdmin {
		r.admins[userPK] = struct{}{}
	} else {
		r.customers[userPK] = struct{}{}
	}
	r.mu.Unlock()

	if prev != nil && prev != h {
		prev.Close("replaced by newer connection")
	}
}

// Unregister removes the participant. No-op if absent; calling it twice is
// safe.
func (r *Registry) Unregister(userPK int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userPK)
	delete(r.admins, userPK)
	delete(r.customers, userPK)
}

// Release removes the participant only while h is still its live handle.
// Sessions use this on shutdown so a connection that was replaced cannot
// evict its successor.
func (r *Registry) Release(userPK int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[userPK] != h {
		return
	}
	delete(r.conns, userPK)
	delete(r.admins, userPK)
	delete(r.customers, userPK)
}

// SendTo forwards a payload to one participant. Returns false when the
// participant is offline or its outbound queue is full; being offline is
// not an error here, callers branch on the result.
func (r *Registry) SendTo(userPK int64, payload []byte) bool {
	r.mu.Lock()
	h := r.conns[userPK]
	r.mu.Unlock()

	if h == nil {
		return false
	}
	return h.Enqueue(payload)
}

// SendToCustomer forwards a payload to one participant only if it is
// currently registered as a customer.
func (r *Registry) SendToCustomer(customerPK int64, payload []byte) bool {
	r.mu.Lock()
	_, isCustomer := r.customers[customerPK]
	h := r.conns[customerPK]
	r.mu.Unlock()

	if !isCustomer || h == nil {
		return false
	}
	return h.Enqueue(payload)
}

// BroadcastToAdmins forwards a payload to every live admin except
// excludePK (0 excludes nobody) and returns the number of successful
// enqueues. One admin's full queue does not stop delivery to the rest.
func (r *Registry) BroadcastToAdmins(payload []byte, excludePK int64) int {
	r.mu.Lock()
	targets := make([]Handle, 0, len(r.admins))
	for id := range r.admins {
		if id == excludePK {
			continue
		}
		if h := r.conns[id]; h != nil {
			targets = append(targets, h)
		}
	}
	r.mu.Unlock()

	sent := 0
	for _, h := range targets {
		if h.Enqueue(payload) {
			sent++
		}
	}
	return sent
}

// AdminIDs returns a snapshot of the live admin participant ids.
func (r *Registry) AdminIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.admins)
}

// CustomerIDs returns a snapshot of the live customer participant ids.
func (r *Registry) CustomerIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.customers)
}

func keys(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
