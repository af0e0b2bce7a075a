// Package store defines the domain types and storage abstractions for the
// worklist service: work items keyed by UID and subscriptions keyed by
// (target UID, subscriber AE title).
package store

import (
	"errors"
	"time"

	"github.com/carina-health/upsrs/dicom"
)

// Reserved subscription target UIDs.
const (
	// GlobalSubscriptionUID subscribes an AE to every work item.
	GlobalSubscriptionUID = "1.2.840.10008.5.1.4.34.5"
	// FilteredSubscriptionUID subscribes an AE to work items matching a query.
	FilteredSubscriptionUID = "1.2.840.10008.5.1.4.34.5.1"
)

// ---- procedure step state ----

// State is the procedure step state of a work item.
type State string

const (
	StateScheduled  State = "SCHEDULED"
	StateInProgress State = "IN PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateCanceled   State = "CANCELED"
)

// ParseState maps a wire value onto a State.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateScheduled, StateInProgress, StateCompleted, StateCanceled:
		return State(s), true
	}
	return "", false
}

// Terminal reports whether no further transition is legal from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// ---- domain types ----

// WorkItem is one unit of scheduled procedural work. The attribute record DS
// is the payload; State mirrors the ProcedureStepState element. The
// transaction UID is the lock token set when the item first transitions to
// IN PROGRESS; it is held outside DS and never serialised on retrieval.
type WorkItem struct {
	UID            string
	State          State
	TransactionUID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DS             dicom.Dataset
}

// Clone returns a deep copy.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.DS = w.DS.Copy()
	return &c
}

// Subscription registers an AE's interest in a target: a concrete work-item
// UID, the global UID, or the filtered UID. Filter is non-nil iff the target
// is the filtered UID. Records are immutable; suspension is modelled as
// replacement.
type Subscription struct {
	TargetUID    string
	AETitle      string
	CreatedAt    time.Time
	DeletionLock bool
	ContactURI   string
	Filter       dicom.Dataset
	Suspended    bool
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Filter = s.Filter.Copy()
	return &c
}

// ---- errors ----

var (
	// ErrDuplicate reports a create with an already-present UID.
	ErrDuplicate = errors.New("workitem already exists")
	// ErrNotFound reports an operation on an absent work item.
	ErrNotFound = errors.New("workitem not found")
)

// ---- store interfaces ----

// IncludeAll is the include-fields sentinel meaning "return every element".
var IncludeAll = []string{"all"}

// WorkItemStore is the work-item persistence abstraction. Implementations
// must return deep copies so callers never observe a torn record.
type WorkItemStore interface {
	Create(w *WorkItem) (*WorkItem, error)
	Get(uid string) (*WorkItem, error)
	// UpdateMerge overlays partial onto the stored record per-tag and stamps
	// UpdatedAt. The caller pre-strips tags it forbids.
	UpdateMerge(uid string, partial dicom.Dataset) (*WorkItem, error)
	// Update replaces the stored record wholesale and stamps UpdatedAt.
	Update(w *WorkItem) (*WorkItem, error)
	// ListFiltered returns records matching query, trimmed to includeFields
	// (plus identity tags) unless includeFields is empty or contains "all"
	// (IncludeAll).
	ListFiltered(query dicom.Dataset, includeFields []string, offset, limit int) ([]*WorkItem, error)
	ListAll() ([]*WorkItem, error)
	// Delete exists at store level but is not reachable from the request
	// handlers.
	Delete(uid string) (bool, error)
}

// SubscriptionStore is the subscription persistence abstraction.
type SubscriptionStore interface {
	// Create removes any suspended subscription with the same key first, then
	// inserts. Creating over an existing non-suspended equivalent is
	// idempotent and returns the existing row.
	Create(s *Subscription) (*Subscription, error)
	GetBySubscriber(aeTitle string) ([]*Subscription, error)
	GetByTarget(targetUID string) ([]*Subscription, error)
	Get(targetUID, aeTitle string) (*Subscription, error)
	Delete(targetUID, aeTitle string) (bool, error)
}
