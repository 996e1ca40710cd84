// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package breach

import (
	"errors"
	"fmt"
	"time"
)

// Severity classifies how serious a breach is. It is supplied by the
// detecting system and never derived here.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// Tier is an escalation level. 0 means the breach was never escalated.
type Tier int

const (
	TierNone Tier = iota
	// TierAlert is the automated alert stage (first 24 hours).
	TierAlert
	// TierOperational is the operational escalation stage (24 to 72 hours).
	TierOperational
	// TierInstitutional is the terminal critical-review stage (72 hours and later).
	TierInstitutional
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierAlert:
		return "alert"
	case TierOperational:
		return "operational"
	case TierInstitutional:
		return "institutional"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the known tiers, including TierNone.
func (t Tier) Valid() bool {
	return t >= TierNone && t <= TierInstitutional
}

// Role is the logical role of a stakeholder on a claim.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleAttorney Role = "attorney"
	RoleEmployer Role = "employer"
	RoleTPA      Role = "tpa"
	// RoleAll addresses every stakeholder on the claim at once (portal broadcast).
	RoleAll Role = "all"
)

func (r Role) Valid() bool {
	switch r {
	case RoleWorker, RoleAttorney, RoleEmployer, RoleTPA:
		return true
	}
	return false
}

// Contact holds the per-channel addresses of one stakeholder.
type Contact struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Event is one detected SLA violation on a claim.
type Event struct {
	ID             string `json:"id"`
	ClaimID        string `json:"claimId"`
	ClaimReference string `json:"claimReference"`

	Severity             Severity `json:"severity"`
	ResponsiblePartyType string   `json:"responsiblePartyType,omitempty"`
	ResponsiblePartyName string   `json:"responsiblePartyName,omitempty"`

	// DelayDays is diagnostic only; CreatedAt is the clock origin for tiering.
	DelayDays int       `json:"delayDays"`
	CreatedAt time.Time `json:"createdAt"`

	LastEscalatedTier Tier       `json:"lastEscalatedTier"`
	LastEscalatedAt   *time.Time `json:"lastEscalatedAt,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	Recipients map[Role]Contact `json:"recipients,omitempty"`
}

// Contact returns the contact for role and whether one is on file.
func (e *Event) Contact(role Role) (Contact, bool) {
	c, ok := e.Recipients[role]
	return c, ok
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Recipients != nil {
		c.Recipients = make(map[Role]Contact, len(e.Recipients))
		for k, v := range e.Recipients {
			c.Recipients[k] = v
		}
	}
	if e.LastEscalatedAt != nil {
		t := *e.LastEscalatedAt
		c.LastEscalatedAt = &t
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Validate checks the fields required to escalate a breach.
func (e *Event) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if e.ClaimID == "" {
		errs = append(errs, errors.New("claimId is required"))
	}
	if !e.Severity.Valid() {
		errs = append(errs, fmt.Errorf("invalid severity %q", e.Severity))
	}
	if e.CreatedAt.IsZero() {
		errs = append(errs, errors.New("createdAt is required"))
	}
	if !e.LastEscalatedTier.Valid() {
		errs = append(errs, fmt.Errorf("invalid lastEscalatedTier %d", e.LastEscalatedTier))
	}
	for role := range e.Recipients {
		if !role.Valid() {
			errs = append(errs, fmt.Errorf("unknown recipient role %q", role))
		}
	}
	return errors.Join(errs...)
}
