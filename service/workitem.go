// Package service holds the domain services: the work-item state machine
// and the subscription life cycle.
package service

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/events"
	"github.com/carina-health/upsrs/metrics"
	"github.com/carina-health/upsrs/store"
)

// Notifier is the slice of the notification service the work-item service
// relies on.
type Notifier interface {
	NotifyCreation(w *store.WorkItem)
	NotifyStatusChange(w *store.WorkItem)
	NotifyCancelRequested(w *store.WorkItem, requestingAE, reason, contactURI, contactDisplayName string)
}

// WorkItemService owns every work-item mutation and drives the state
// machine: SCHEDULED → IN PROGRESS → {COMPLETED, CANCELED}.
type WorkItemService struct {
	items    store.WorkItemStore
	notifier Notifier
	log      zerolog.Logger
}

// NewWorkItemService wires the service.
func NewWorkItemService(items store.WorkItemStore, notifier Notifier, log zerolog.Logger) *WorkItemService {
	return &WorkItemService{items: items, notifier: notifier, log: log}
}

// Create validates and inserts a new work item, then emits the creation
// events.
func (s *WorkItemService) Create(ds dicom.Dataset) (*store.WorkItem, error) {
	uid := ds.GetString(dicom.TagSOPInstanceUID)
	if !dicom.IsValidUID(uid) {
		return nil, validationf("missing or malformed SOPInstanceUID")
	}
	if st := ds.GetString(dicom.TagProcedureStepState); st != "" && st != string(store.StateScheduled) {
		return nil, validationf("a new workitem must be in the SCHEDULED state")
	}

	record := ds.Copy()
	if !record.Has(dicom.TagSOPClassUID) {
		record.SetString(dicom.TagSOPClassUID, "UI", events.UPSPushSOPClassUID)
	}
	// The transaction UID is a lock token, never part of the stored record.
	delete(record, dicom.TagTransactionUID)

	created, err := s.items.Create(&store.WorkItem{UID: uid, State: store.StateScheduled, DS: record})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflict("workitem " + uid + " already exists")
		}
		return nil, internal(err)
	}

	metrics.WorkItemsCreated.Inc()
	s.log.Info().Str("uid", uid).Msg("workitem created")
	s.notifier.NotifyCreation(created)
	return created, nil
}

// Get returns the work item or a NotFound error.
func (s *WorkItemService) Get(uid string) (*store.WorkItem, error) {
	w, err := s.items.Get(uid)
	if err != nil {
		return nil, internal(err)
	}
	if w == nil {
		return nil, notFoundf("workitem %s not found", uid)
	}
	return w, nil
}

// List returns deep copies of the work items matching query.
func (s *WorkItemService) List(query dicom.Dataset, includeFields []string, offset, limit int) ([]*store.WorkItem, error) {
	items, err := s.items.ListFiltered(query, includeFields, offset, limit)
	if err != nil {
		return nil, internal(err)
	}
	return items, nil
}

// Update merge-updates a work item. The state element may only change
// through ChangeState: when present it is stripped and the returned warning
// list tells the handler to flag the modification. A transaction UID is
// required, and must match, once the item has left SCHEDULED.
func (s *WorkItemService) Update(uid string, partial dicom.Dataset, transactionUID string) (*store.WorkItem, []string, error) {
	var warnings []string
	partial = partial.Copy()
	if partial.Has(dicom.TagProcedureStepState) {
		delete(partial, dicom.TagProcedureStepState)
		warnings = append(warnings, WarnUpdatedWithModifications)
	}
	delete(partial, dicom.TagTransactionUID)

	w, err := s.items.Get(uid)
	if err != nil {
		return nil, warnings, internal(err)
	}
	if w == nil {
		return nil, warnings, notFoundf("workitem %s not found", uid)
	}

	if transactionUID == "" {
		if w.State != store.StateScheduled {
			return nil, warnings, precondition("a transaction UID is required once the workitem is claimed",
				WarnInconsistentWithState, WarnMissingTransactionUID)
		}
	} else if w.State != store.StateScheduled && transactionUID != w.TransactionUID {
		return nil, warnings, precondition("transaction UID does not match",
			WarnInconsistentWithState, WarnIncorrectTransactionUID)
	}

	updated, err := s.items.UpdateMerge(uid, partial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, warnings, notFoundf("workitem %s not found", uid)
		}
		return nil, warnings, internal(err)
	}
	return updated, warnings, nil
}

// ChangeState drives one transition of the state machine and emits the
// matching event on success.
func (s *WorkItemService) ChangeState(uid, newStateRaw, transactionUID string) (*store.WorkItem, error) {
	newState, ok := store.ParseState(newStateRaw)
	if !ok {
		return nil, validationf("unknown procedure step state %q", newStateRaw)
	}

	w, err := s.items.Get(uid)
	if err != nil {
		return nil, internal(err)
	}
	if w == nil {
		return nil, notFoundf("workitem %s not found", uid)
	}

	switch {
	case w.State.Terminal():
		if newState == w.State {
			warning := WarnAlreadyCompleted
			if w.State == store.StateCanceled {
				warning = WarnAlreadyCanceled
			}
			return nil, gone("workitem "+uid+" is already "+string(w.State), warning)
		}
		return nil, conflict("workitem "+uid+" is in the terminal state "+string(w.State), WarnInconsistentUPSState)

	case w.State == store.StateScheduled:
		if newState != store.StateInProgress {
			return nil, conflict("a SCHEDULED workitem may only transition to IN PROGRESS", WarnInconsistentUPSState)
		}
		if transactionUID == "" {
			return nil, precondition("claiming a workitem requires a transaction UID", WarnMissingTransactionUID)
		}
		w.TransactionUID = transactionUID

	default: // IN PROGRESS
		if newState != store.StateCompleted && newState != store.StateCanceled {
			return nil, conflict("an IN PROGRESS workitem may only transition to COMPLETED or CANCELED", WarnInconsistentUPSState)
		}
		if transactionUID == "" {
			return nil, precondition("a transaction UID is required", WarnMissingTransactionUID)
		}
		if transactionUID != w.TransactionUID {
			return nil, precondition("transaction UID does not match", WarnIncorrectTransactionUID)
		}
	}

	w.State = newState
	updated, err := s.items.Update(w)
	if err != nil {
		return nil, internal(err)
	}

	s.log.Info().Str("uid", uid).Str("state", string(newState)).Msg("workitem state changed")
	s.notifier.NotifyStatusChange(updated)
	return updated, nil
}

// Cancel processes a cancellation request. A SCHEDULED item is canceled by
// the server itself (no lock token exists yet); an IN PROGRESS item belongs
// to its performer, so the request is relayed as a Cancel Requested event.
// Terminal items reject the request.
func (s *WorkItemService) Cancel(uid string, partial dicom.Dataset) error {
	w, err := s.items.Get(uid)
	if err != nil {
		return internal(err)
	}
	if w == nil {
		return notFoundf("workitem %s not found", uid)
	}

	switch w.State {
	case store.StateScheduled:
		merged := partial.Copy()
		delete(merged, dicom.TagProcedureStepState)
		delete(merged, dicom.TagTransactionUID)
		w.DS.MergeIn(merged)
		w.State = store.StateCanceled
		updated, err := s.items.Update(w)
		if err != nil {
			return internal(err)
		}
		s.log.Info().Str("uid", uid).Msg("workitem canceled by request")
		s.notifier.NotifyStatusChange(updated)
		return nil

	case store.StateInProgress:
		s.notifier.NotifyCancelRequested(w,
			partial.GetString(dicom.TagRequestingAE),
			partial.GetString(dicom.TagReasonForCancellation),
			partial.GetString(dicom.TagContactURI),
			partial.GetString(dicom.TagContactDisplayName))
		return nil

	case store.StateCanceled:
		return conflict("workitem "+uid+" is already CANCELED", WarnAlreadyCanceled)

	default: // COMPLETED
		return conflict("workitem "+uid+" is COMPLETED", WarnInconsistentUPSState)
	}
}
