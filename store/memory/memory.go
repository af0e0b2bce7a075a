// Package memory provides the in-memory store implementations. An exclusive
// lock serialises writes; readers always receive deep copies.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/matcher"
	"github.com/carina-health/upsrs/store"
)

// WorkItemStore is a map-backed store.WorkItemStore.
type WorkItemStore struct {
	mu    sync.RWMutex
	items map[string]*store.WorkItem
}

// NewWorkItemStore returns an empty work-item store.
func NewWorkItemStore() *WorkItemStore {
	return &WorkItemStore{items: make(map[string]*store.WorkItem)}
}

// Create inserts a new work item, stamping CreatedAt/UpdatedAt, defaulting
// an unset State to SCHEDULED, and writing State into the record's
// ProcedureStepState element.
func (s *WorkItemStore) Create(w *store.WorkItem) (*store.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[w.UID]; exists {
		return nil, store.ErrDuplicate
	}

	c := w.Clone()
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.State == "" {
		c.State = store.StateScheduled
	}
	if c.DS == nil {
		c.DS = dicom.Dataset{}
	}
	c.DS.SetString(dicom.TagProcedureStepState, "CS", string(c.State))
	s.items[c.UID] = c
	return c.Clone(), nil
}

// Get returns a copy of the work item, or nil when absent.
func (s *WorkItemStore) Get(uid string) (*store.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[uid].Clone(), nil
}

// UpdateMerge overlays partial onto the stored record per-tag.
func (s *WorkItemStore) UpdateMerge(uid string, partial dicom.Dataset) (*store.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.items[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	w.DS.MergeIn(partial)
	if st, ok := store.ParseState(w.DS.GetString(dicom.TagProcedureStepState)); ok {
		w.State = st
	}
	w.UpdatedAt = time.Now()
	return w.Clone(), nil
}

// Update replaces the stored record wholesale.
func (s *WorkItemStore) Update(w *store.WorkItem) (*store.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[w.UID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := w.Clone()
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now()
	c.DS.SetString(dicom.TagProcedureStepState, "CS", string(c.State))
	s.items[c.UID] = c
	return c.Clone(), nil
}

// ListFiltered returns copies of records matching query. Ordering is by
// creation time (then UID), stable within a call. Returned copies are
// trimmed to includeFields plus identity tags unless includeFields is empty
// or contains "all" (the IncludeAll sentinel).
func (s *WorkItemStore) ListFiltered(query dicom.Dataset, includeFields []string, offset, limit int) ([]*store.WorkItem, error) {
	all, _ := s.ListAll()

	var matched []*store.WorkItem
	for _, w := range all {
		if matcher.Match(query, w.DS) {
			matched = append(matched, w)
		}
	}

	if offset > 0 {
		if offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[offset:]
		}
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	if !includeAll(includeFields) {
		keep := includeSet(includeFields)
		for _, w := range matched {
			trimFields(w.DS, keep)
		}
	}
	return matched, nil
}

// ListAll returns a deep-copy snapshot ordered by creation time then UID.
func (s *WorkItemStore) ListAll() ([]*store.WorkItem, error) {
	s.mu.RLock()
	out := make([]*store.WorkItem, 0, len(s.items))
	for _, w := range s.items {
		out = append(out, w.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UID < out[j].UID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the work item; unused by the request handlers.
func (s *WorkItemStore) Delete(uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[uid]; !ok {
		return false, nil
	}
	delete(s.items, uid)
	return true, nil
}

func includeAll(fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == "all" {
			return true
		}
	}
	return false
}

func includeSet(fields []string) map[dicom.Tag]bool {
	// Identity tags are always retained.
	keep := map[dicom.Tag]bool{
		dicom.TagSOPClassUID:    true,
		dicom.TagSOPInstanceUID: true,
	}
	for _, f := range fields {
		if t, ok := dicom.ResolveQueryKey(f); ok {
			keep[t] = true
		}
	}
	return keep
}

func trimFields(ds dicom.Dataset, keep map[dicom.Tag]bool) {
	for t := range ds {
		if !keep[t] {
			delete(ds, t)
		}
	}
}

// SubscriptionStore is a map-backed store.SubscriptionStore.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[subKey]*store.Subscription
}

type subKey struct {
	target string
	ae     string
}

// NewSubscriptionStore returns an empty subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[subKey]*store.Subscription)}
}

// Create inserts a subscription, first removing any suspended row with the
// same key. An existing non-suspended row makes the create idempotent.
func (s *SubscriptionStore) Create(sub *store.Subscription) (*store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey{sub.TargetUID, sub.AETitle}
	if cur, ok := s.subs[key]; ok {
		if !cur.Suspended {
			return cur.Clone(), nil
		}
		delete(s.subs, key)
	}

	c := sub.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.subs[key] = c
	return c.Clone(), nil
}

// GetBySubscriber returns all subscriptions held by an AE title.
func (s *SubscriptionStore) GetBySubscriber(aeTitle string) ([]*store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Subscription
	for k, sub := range s.subs {
		if k.ae == aeTitle {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

// GetByTarget returns all subscriptions against a target UID.
func (s *SubscriptionStore) GetByTarget(targetUID string) ([]*store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Subscription
	for k, sub := range s.subs {
		if k.target == targetUID {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

// Get returns the subscription for (target, ae), or nil.
func (s *SubscriptionStore) Get(targetUID, aeTitle string) (*store.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[subKey{targetUID, aeTitle}].Clone(), nil
}

// Delete removes the subscription, reporting whether one was present.
func (s *SubscriptionStore) Delete(targetUID, aeTitle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subKey{targetUID, aeTitle}
	if _, ok := s.subs[key]; !ok {
		return false, nil
	}
	delete(s.subs, key)
	return true, nil
}
