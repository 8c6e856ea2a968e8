package genstore

import (
	"context"
	"sort"
	"sync"
)

// LocalGenStore keeps the registry in-process (default).
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]map[string]struct{} // tag -> request keys
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]map[string]struct{})}
}

func (s *LocalGenStore) Create(_ context.Context, tag string) error {
	s.mu.Lock()
	if _, ok := s.gens[tag]; !ok {
		s.gens[tag] = make(map[string]struct{})
	}
	s.mu.Unlock()
	return nil
}

func (s *LocalGenStore) Exists(_ context.Context, tag string) (bool, error) {
	s.mu.RLock()
	_, ok := s.gens[tag]
	s.mu.RUnlock()
	return ok, nil
}

func (s *LocalGenStore) Tags(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.gens))
	for t := range s.gens {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *LocalGenStore) Track(_ context.Context, tag string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[tag]
	if !ok {
		return ErrUnknownTag
	}
	for _, k := range keys {
		g[k] = struct{}{}
	}
	return nil
}

func (s *LocalGenStore) Members(_ context.Context, tag string) ([]string, error) {
	s.mu.RLock()
	g, ok := s.gens[tag]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *LocalGenStore) Drop(_ context.Context, tag string) ([]string, bool, error) {
	s.mu.Lock()
	g, ok := s.gens[tag]
	if ok {
		delete(s.gens, tag)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, true, nil
}

func (s *LocalGenStore) Close(_ context.Context) error { return nil }
