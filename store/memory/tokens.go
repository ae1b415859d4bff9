package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/goAccount/token"
)

// Tokens is an in-memory token.Repository.
type Tokens struct {
	mu      sync.Mutex
	byValue map[string]*token.SecurityToken
}

// NewTokens returns an empty Tokens repository.
func NewTokens() *Tokens {
	return &Tokens{byValue: make(map[string]*token.SecurityToken)}
}

func (r *Tokens) Save(_ context.Context, tok *token.SecurityToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tok
	r.byValue[tok.Value] = &cp
	return nil
}

func (r *Tokens) FindByValueAndType(_ context.Context, value string, typ token.Type) (*token.SecurityToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.byValue[value]
	if !ok || tok.Type != typ {
		return nil, token.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (r *Tokens) FindByUserAndType(_ context.Context, userID string, typ token.Type) ([]*token.SecurityToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*token.SecurityToken
	for _, tok := range r.byValue {
		if tok.UserID == userID && tok.Type == typ {
			cp := *tok
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Tokens) Delete(_ context.Context, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byValue[value]; !ok {
		return false, nil
	}
	delete(r.byValue, value)
	return true, nil
}

func (r *Tokens) DeleteByUserAndType(_ context.Context, userID string, typ token.Type) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for value, tok := range r.byValue {
		if tok.UserID == userID && tok.Type == typ {
			delete(r.byValue, value)
			n++
		}
	}
	return n, nil
}

func (r *Tokens) DeleteByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for value, tok := range r.byValue {
		if tok.UserID == userID {
			delete(r.byValue, value)
			n++
		}
	}
	return n, nil
}

func (r *Tokens) All(_ context.Context) ([]*token.SecurityToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*token.SecurityToken, 0, len(r.byValue))
	for _, tok := range r.byValue {
		cp := *tok
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out, nil
}

// Len reports the number of stored records.
func (r *Tokens) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byValue)
}

func sortNewestFirst(toks []*token.SecurityToken) {
	sort.SliceStable(toks, func(i, j int) bool {
		return toks[i].CreatedAt.After(toks[j].CreatedAt)
	})
}
