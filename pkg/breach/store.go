// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package breach

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("breach not found")
	ErrExists   = errors.New("breach already registered")
	// ErrTierConflict means the stored tier no longer matches the caller's view.
	ErrTierConflict = errors.New("breach tier changed concurrently")
	// ErrTierRegression means a transition would lower or keep the tier.
	ErrTierRegression = errors.New("escalation tier must strictly increase")
)

// ListOptions filters Store.List.
type ListOptions struct {
	// OpenOnly excludes resolved breaches.
	OpenOnly bool
	ClaimID  string
}

// Store keeps breach escalation state. AdvanceTier is the only mutation of
// LastEscalatedTier and behaves as a compare-and-set on the current tier.
type Store interface {
	Create(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context, opts ListOptions) ([]*Event, error)
	AdvanceTier(ctx context.Context, id string, from, to Tier, at time.Time) error
	Resolve(ctx context.Context, id string, at time.Time) error
}

// CheckAdvance validates a tier transition independent of storage.
func CheckAdvance(from, to Tier) error {
	if !to.Valid() || to <= from {
		return fmt.Errorf("%w: %d -> %d", ErrTierRegression, from, to)
	}
	return nil
}

// Memory is an in-process Store used by tests and the memory storage driver.
type Memory struct {
	mu     sync.RWMutex
	events map[string]*Event
}

func NewMemory() *Memory {
	return &Memory{events: make(map[string]*Event)}
}

func (m *Memory) Create(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	m.events[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (m *Memory) List(_ context.Context, opts ListOptions) ([]*Event, error) {
	m.mu.RLock()
	out := make([]*Event, 0, len(m.events))
	for _, e := range m.events {
		if opts.OpenOnly && e.Resolved {
			continue
		}
		if opts.ClaimID != "" && e.ClaimID != opts.ClaimID {
			continue
		}
		out = append(out, e.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AdvanceTier(_ context.Context, id string, from, to Tier, at time.Time) error {
	if err := CheckAdvance(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.LastEscalatedTier != from {
		return fmt.Errorf("%w: %s is at tier %d, expected %d", ErrTierConflict, id, e.LastEscalatedTier, from)
	}
	e.LastEscalatedTier = to
	e.LastEscalatedAt = &at
	return nil
}

func (m *Memory) Resolve(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.Resolved {
		return nil
	}
	e.Resolved = true
	e.ResolvedAt = &at
	return nil
}
