package memory

import (
	"context"
	"sync"
)

// RecoveryCodes is an in-memory twofactor.Repository holding code digests.
type RecoveryCodes struct {
	mu     sync.Mutex
	byUser map[string]map[string]struct{}
}

// NewRecoveryCodes returns an empty RecoveryCodes repository.
func NewRecoveryCodes() *RecoveryCodes {
	return &RecoveryCodes{byUser: make(map[string]map[string]struct{})}
}

// Replace discards the user's current set and stores digests.
func (r *RecoveryCodes) Replace(_ context.Context, userID string, digests []string) error {
	set := make(map[string]struct{}, len(digests))
	for _, d := range digests {
		set[d] = struct{}{}
	}
	r.mu.Lock()
	r.byUser[userID] = set
	r.mu.Unlock()
	return nil
}

func (r *RecoveryCodes) Contains(_ context.Context, userID, digest string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[userID][digest]
	return ok, nil
}

// Consume deletes digest and reports whether it was present.
func (r *RecoveryCodes) Consume(_ context.Context, userID, digest string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[userID]
	if _, ok := set[digest]; !ok {
		return false, nil
	}
	delete(set, digest)
	return true, nil
}

func (r *RecoveryCodes) Restore(_ context.Context, userID, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[digest] = struct{}{}
	return nil
}

func (r *RecoveryCodes) DeleteAll(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byUser[userID])
	delete(r.byUser, userID)
	return n, nil
}

func (r *RecoveryCodes) Count(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]), nil
}
