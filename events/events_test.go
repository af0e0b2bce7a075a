package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/store"
)

func testWorkItem() *store.WorkItem {
	ds := dicom.Dataset{}
	ds.SetString(dicom.TagSOPInstanceUID, "UI", "1.2.3.4")
	ds.SetString(dicom.TagProcedureStepState, "CS", "SCHEDULED")
	ds.SetString(dicom.TagInputReadinessState, "CS", "READY")
	return &store.WorkItem{UID: "1.2.3.4", State: store.StateScheduled, DS: ds}
}

func TestStateReportEnvelope(t *testing.T) {
	b := NewBuilder()
	evt := b.State(testWorkItem(), "")

	assert.Equal(t, UPSPushSOPClassUID, evt.GetString(dicom.TagAffectedSOPClassUID))
	assert.Equal(t, "1.2.3.4", evt.GetString(dicom.TagAffectedSOPInstanceUID))
	assert.Equal(t, "1", evt.GetString(dicom.TagEventTypeID))
	assert.Equal(t, "1", evt.GetString(dicom.TagMessageID))
	assert.Equal(t, "SCHEDULED", evt.GetString(dicom.TagProcedureStepState))
	assert.Equal(t, "READY", evt.GetString(dicom.TagInputReadinessState))
	assert.False(t, evt.Has(dicom.TagReasonForCancellation))
}

func TestStateReportCarriesReason(t *testing.T) {
	b := NewBuilder()
	evt := b.State(testWorkItem(), "machine down")
	assert.Equal(t, "machine down", evt.GetString(dicom.TagReasonForCancellation))
}

func TestMessageIDMonotonicAndWrapping(t *testing.T) {
	b := NewBuilder()
	w := testWorkItem()

	assert.Equal(t, "1", b.State(w, "").GetString(dicom.TagMessageID))
	assert.Equal(t, "2", b.State(w, "").GetString(dicom.TagMessageID))

	// Jump the counter to the wrap boundary.
	b.seq.Store(65533)
	assert.Equal(t, "65534", b.State(w, "").GetString(dicom.TagMessageID))
	assert.Equal(t, "1", b.State(w, "").GetString(dicom.TagMessageID), "ids wrap from 65534 back to 1")
}

func TestCancelRequestedPayload(t *testing.T) {
	b := NewBuilder()
	evt := b.CancelRequested(testWorkItem(), "REMOTE_AE", "patient unavailable", "mailto:ops@example.test", "Operations")

	assert.Equal(t, "2", evt.GetString(dicom.TagEventTypeID))
	assert.Equal(t, "REMOTE_AE", evt.GetString(dicom.TagRequestingAE))
	assert.Equal(t, "patient unavailable", evt.GetString(dicom.TagReasonForCancellation))
	assert.Equal(t, "mailto:ops@example.test", evt.GetString(dicom.TagContactURI))
	assert.Equal(t, "Operations", evt.GetString(dicom.TagContactDisplayName))
}

func TestProgressClamping(t *testing.T) {
	w := testWorkItem()
	progress := dicom.Dataset{}
	progress.SetString(dicom.TagProcedureStepProgress, "DS", "150")
	progress.SetString(dicom.TagProcedureStepProgressDescription, "ST", "almost")
	w.DS.SetSequence(dicom.TagProcedureStepProgressInformationSequence, progress)

	evt := NewBuilder().Progress(w)
	assert.Equal(t, "3", evt.GetString(dicom.TagEventTypeID))

	items := evt.Items(dicom.TagProcedureStepProgressInformationSequence)
	require.Len(t, items, 1)
	assert.Equal(t, "100", items[0].GetString(dicom.TagProcedureStepProgress))
	assert.Equal(t, "almost", items[0].GetString(dicom.TagProcedureStepProgressDescription))
}

func TestProgressClampsNegative(t *testing.T) {
	w := testWorkItem()
	progress := dicom.Dataset{}
	progress.SetString(dicom.TagProcedureStepProgress, "DS", "-5")
	w.DS.SetSequence(dicom.TagProcedureStepProgressInformationSequence, progress)

	items := NewBuilder().Progress(w).Items(dicom.TagProcedureStepProgressInformationSequence)
	require.Len(t, items, 1)
	assert.Equal(t, "0", items[0].GetString(dicom.TagProcedureStepProgress))
}

func TestSCPStatusChange(t *testing.T) {
	evt := NewBuilder().SCPStatusChange(SCPStatusGoingDown, ListStatusWarmStart, ListStatusColdStart)

	assert.Equal(t, "4", evt.GetString(dicom.TagEventTypeID))
	assert.Equal(t, "", evt.GetString(dicom.TagAffectedSOPInstanceUID))
	assert.Equal(t, "GOING DOWN", evt.GetString(dicom.TagSCPStatus))
	assert.Equal(t, "WARM START", evt.GetString(dicom.TagSubscriptionListStatus))
	assert.Equal(t, "COLD START", evt.GetString(dicom.TagUnifiedProcedureStepListStatus))
	assert.False(t, evt.Has(dicom.TagProcedureStepState))
}

func TestAssignedCopiesSchedulingSequences(t *testing.T) {
	w := testWorkItem()
	code := dicom.Dataset{}
	code.SetString(dicom.TagCodeValue, "SH", "TRTMACHINE1")
	code.SetString(dicom.TagCodingSchemeDesignator, "SH", "99CLINIC")
	w.DS.SetSequence(dicom.TagScheduledStationNameCodeSequence, code)

	evt := NewBuilder().Assigned(w)
	assert.Equal(t, "5", evt.GetString(dicom.TagEventTypeID))

	items := evt.Items(dicom.TagScheduledStationNameCodeSequence)
	require.Len(t, items, 1)
	assert.Equal(t, "TRTMACHINE1", items[0].GetString(dicom.TagCodeValue))
	assert.False(t, evt.Has(dicom.TagHumanPerformerCodeSequence), "absent sequences are not invented")
}
