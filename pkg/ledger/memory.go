// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/telekom/sla-escalation/pkg/notification"
)

// Memory is a process-local Ledger. It is used by tests and by the
// "memory" storage driver for local development.
type Memory struct {
	mu    sync.RWMutex
	byID  map[string]*notification.Record
	byKey map[string]string
	order []string
}

var _ Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[string]*notification.Record),
		byKey: make(map[string]string),
	}
}

// Validate checks the fields every backend requires before appending.
func Validate(rec *notification.Record) error {
	var errs []error
	if rec.ID == "" {
		errs = append(errs, errors.New("record id is required"))
	}
	if !rec.Channel.Valid() {
		errs = append(errs, fmt.Errorf("invalid channel %q", rec.Channel))
	}
	if !rec.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", rec.Status))
	}
	if !rec.Priority.Valid() {
		errs = append(errs, fmt.Errorf("invalid priority %q", rec.Priority))
	}
	if rec.CreatedAt.IsZero() {
		errs = append(errs, errors.New("createdAt is required"))
	}
	return errors.Join(errs...)
}

func (m *Memory) Append(_ context.Context, rec *notification.Record) error {
	if err := Validate(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	if rec.IdempotencyKey != "" {
		if _, ok := m.byKey[rec.IdempotencyKey]; ok {
			return fmt.Errorf("%w: %s", notification.ErrDuplicateKey, rec.IdempotencyKey)
		}
		m.byKey[rec.IdempotencyKey] = rec.ID
	}
	m.byID[rec.ID] = rec.Clone()
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*notification.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *Memory) GetByKey(ctx context.Context, key string) (*notification.Record, error) {
	m.mu.RLock()
	id, ok := m.byKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: key %s", notification.ErrNotFound, key)
	}
	return m.Get(ctx, id)
}

func (m *Memory) List(_ context.Context, f notification.Filter) ([]notification.Record, error) {
	m.mu.RLock()
	matched := make([]*notification.Record, 0, len(m.order))
	for _, id := range m.order {
		rec := m.byID[id]
		if f.Matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return notification.Less(matched[i], matched[j]) })
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]notification.Record, len(matched))
	for i, rec := range matched {
		out[i] = *rec
	}
	return out, nil
}

func (m *Memory) Complete(_ context.Context, id string, o notification.Outcome) (*notification.Record, error) {
	return m.transition(id, func(rec *notification.Record) error { return rec.ApplyOutcome(o) })
}

func (m *Memory) UpdateStatus(_ context.Context, id string, u notification.StatusUpdate) (*notification.Record, error) {
	return m.transition(id, func(rec *notification.Record) error { return rec.ApplyUpdate(u) })
}

// transition applies fn to a copy and only stores it when fn succeeds, so a
// rejected change never leaves a partially mutated record behind.
func (m *Memory) transition(id string, fn func(*notification.Record) error) (*notification.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	m.byID[id] = next
	return next.Clone(), nil
}
