// Package events builds the event reports delivered over push channels.
// Every report shares an envelope (affected SOP class/instance, event type,
// message id) and adds a type-specific payload.
package events

import (
	"strconv"
	"sync/atomic"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/store"
)

// UPSPushSOPClassUID identifies the service class in every event envelope.
const UPSPushSOPClassUID = "1.2.840.10008.5.1.4.34.6.1"

// Type identifies one of the five report shapes.
type Type int

const (
	TypeState           Type = 1
	TypeCancelRequested Type = 2
	TypeProgress        Type = 3
	TypeSCPStatusChange Type = 4
	TypeAssigned        Type = 5
)

// maxMessageID is the largest legal message id; the counter wraps back to 1.
const maxMessageID = 65534

// Builder constructs event reports with a process-wide monotonic message id.
type Builder struct {
	seq atomic.Uint64
}

// NewBuilder returns a Builder whose first message id is 1.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) nextMessageID() int {
	return int((b.seq.Add(1)-1)%maxMessageID) + 1
}

// envelope builds the fields every report shares. affectedUID may be empty
// (SCP status change); w may be nil for the same reason.
func (b *Builder) envelope(t Type, affectedUID string, w *store.WorkItem) dicom.Dataset {
	ds := dicom.Dataset{}
	ds.SetString(dicom.TagAffectedSOPClassUID, "UI", UPSPushSOPClassUID)
	ds.SetInt(dicom.TagMessageID, "US", b.nextMessageID())
	ds.SetString(dicom.TagAffectedSOPInstanceUID, "UI", affectedUID)
	ds.SetInt(dicom.TagEventTypeID, "US", int(t))
	if w != nil {
		ds.SetString(dicom.TagProcedureStepState, "CS", string(w.State))
		if v := w.DS.GetString(dicom.TagInputReadinessState); v != "" {
			ds.SetString(dicom.TagInputReadinessState, "CS", v)
		}
	}
	return ds
}

// State builds a UPS State Report. reason, when nonempty, is carried as the
// cancellation reason.
func (b *Builder) State(w *store.WorkItem, reason string) dicom.Dataset {
	ds := b.envelope(TypeState, w.UID, w)
	if reason != "" {
		ds.SetString(dicom.TagReasonForCancellation, "LT", reason)
	}
	return ds
}

// CancelRequested builds a UPS Cancel Requested report addressed to the
// work item's owner.
func (b *Builder) CancelRequested(w *store.WorkItem, requestingAE, reason, contactURI, contactDisplayName string) dicom.Dataset {
	ds := b.envelope(TypeCancelRequested, w.UID, w)
	ds.SetString(dicom.TagRequestingAE, "AE", requestingAE)
	if reason != "" {
		ds.SetString(dicom.TagReasonForCancellation, "LT", reason)
	}
	if contactURI != "" {
		ds.SetString(dicom.TagContactURI, "UR", contactURI)
	}
	if contactDisplayName != "" {
		ds.SetString(dicom.TagContactDisplayName, "LO", contactDisplayName)
	}
	return ds
}

// Progress builds a UPS Progress Report from the work item's progress
// information sequence. The progress value is clamped to 0..100.
func (b *Builder) Progress(w *store.WorkItem) dicom.Dataset {
	ds := b.envelope(TypeProgress, w.UID, w)

	item := dicom.Dataset{}
	if src := w.DS.Items(dicom.TagProcedureStepProgressInformationSequence); len(src) > 0 {
		first := src[0]
		if v := first.GetString(dicom.TagProcedureStepProgress); v != "" {
			item.SetString(dicom.TagProcedureStepProgress, "DS", clampProgress(v))
		}
		if v := first.GetString(dicom.TagProcedureStepProgressDescription); v != "" {
			item.SetString(dicom.TagProcedureStepProgressDescription, "ST", v)
		}
		if uris := first.Items(dicom.TagProcedureStepCommunicationsURISequence); len(uris) > 0 {
			item.SetSequence(dicom.TagProcedureStepCommunicationsURISequence, uris...)
		}
	}
	ds.SetSequence(dicom.TagProcedureStepProgressInformationSequence, item)
	return ds
}

func clampProgress(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	if f < 0 {
		return "0"
	}
	if f > 100 {
		return "100"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SCP status values.
const (
	SCPStatusRestarted = "RESTARTED"
	SCPStatusGoingDown = "GOING DOWN"

	ListStatusWarmStart = "WARM START"
	ListStatusColdStart = "COLD START"
)

// SCPStatusChange builds a UPS SCP Status Change report. It names no work
// item, so the affected instance UID is empty.
func (b *Builder) SCPStatusChange(scpStatus, subscriptionListStatus, upsListStatus string) dicom.Dataset {
	ds := b.envelope(TypeSCPStatusChange, "", nil)
	ds.SetString(dicom.TagSCPStatus, "CS", scpStatus)
	ds.SetString(dicom.TagSubscriptionListStatus, "CS", subscriptionListStatus)
	ds.SetString(dicom.TagUnifiedProcedureStepListStatus, "CS", upsListStatus)
	return ds
}

// Assigned builds a UPS Assigned report, copying the scheduling sequences
// from the work item when present.
func (b *Builder) Assigned(w *store.WorkItem) dicom.Dataset {
	ds := b.envelope(TypeAssigned, w.UID, w)
	src := w.DS.Copy()
	for _, t := range []dicom.Tag{
		dicom.TagScheduledStationNameCodeSequence,
		dicom.TagHumanPerformerCodeSequence,
		dicom.TagHumanPerformersOrganization,
	} {
		if e, ok := src[t]; ok {
			ds[t] = e
		}
	}
	return ds
}
