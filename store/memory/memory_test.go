package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/store"
)

func newItem(uid string, extra func(dicom.Dataset)) *store.WorkItem {
	ds := dicom.Dataset{}
	ds.SetString(dicom.TagSOPInstanceUID, "UI", uid)
	ds.SetString(dicom.TagProcedureStepState, "CS", "SCHEDULED")
	if extra != nil {
		extra(ds)
	}
	return &store.WorkItem{UID: uid, State: store.StateScheduled, DS: ds}
}

func TestCreateRejectsDuplicateUID(t *testing.T) {
	s := NewWorkItemStore()

	_, err := s.Create(newItem("1.2.3", nil))
	require.NoError(t, err)

	_, err = s.Create(newItem("1.2.3", nil))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewWorkItemStore()
	_, err := s.Create(newItem("1.2.3", nil))
	require.NoError(t, err)

	a, err := s.Get("1.2.3")
	require.NoError(t, err)
	require.NotNil(t, a)
	a.DS.SetString(dicom.TagWorklistLabel, "LO", "MUTATED")

	b, err := s.Get("1.2.3")
	require.NoError(t, err)
	assert.False(t, b.DS.Has(dicom.TagWorklistLabel), "store copies must be isolated")
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := NewWorkItemStore()
	w, err := s.Get("9.9.9")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestUpdateMergeKeepsUntouchedTags(t *testing.T) {
	s := NewWorkItemStore()
	_, err := s.Create(newItem("1.2.3", func(ds dicom.Dataset) {
		ds.SetString(dicom.TagPatientID, "LO", "P1")
		ds.SetString(dicom.TagWorklistLabel, "LO", "LABEL")
	}))
	require.NoError(t, err)

	partial := dicom.Dataset{}
	partial.SetString(dicom.TagPatientID, "LO", "P2")

	updated, err := s.UpdateMerge("1.2.3", partial)
	require.NoError(t, err)
	assert.Equal(t, "P2", updated.DS.GetString(dicom.TagPatientID))
	assert.Equal(t, "LABEL", updated.DS.GetString(dicom.TagWorklistLabel))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	_, err = s.UpdateMerge("9.9.9", partial)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFilteredAppliesQueryAndFields(t *testing.T) {
	s := NewWorkItemStore()
	for _, uid := range []string{"1.1", "1.2", "1.3"} {
		_, err := s.Create(newItem(uid, func(ds dicom.Dataset) {
			ds.SetString(dicom.TagPatientID, "LO", "P-"+uid)
			ds.SetString(dicom.TagWorklistLabel, "LO", "LBL")
		}))
		require.NoError(t, err)
	}

	query := dicom.Dataset{}
	query.SetString(dicom.TagPatientID, "LO", "P-1.2")

	items, err := s.ListFiltered(query, []string{"PatientID"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.2", items[0].UID)
	assert.Equal(t, "P-1.2", items[0].DS.GetString(dicom.TagPatientID))
	assert.True(t, items[0].DS.Has(dicom.TagSOPInstanceUID), "identity tags are always retained")
	assert.False(t, items[0].DS.Has(dicom.TagWorklistLabel), "tags outside includefield are trimmed")
}

func TestListFilteredOffsetLimit(t *testing.T) {
	s := NewWorkItemStore()
	for _, uid := range []string{"1.1", "1.2", "1.3", "1.4"} {
		_, err := s.Create(newItem(uid, nil))
		require.NoError(t, err)
	}

	items, err := s.ListFiltered(dicom.Dataset{}, store.IncludeAll, 1, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = s.ListFiltered(dicom.Dataset{}, store.IncludeAll, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteUnusedButPresent(t *testing.T) {
	s := NewWorkItemStore()
	_, err := s.Create(newItem("1.2.3", nil))
	require.NoError(t, err)

	removed, err := s.Delete("1.2.3")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete("1.2.3")
	require.NoError(t, err)
	assert.False(t, removed)
}

// ---- subscriptions ----

func TestSubscriptionCreateIsIdempotent(t *testing.T) {
	s := NewSubscriptionStore()

	sub := &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1", DeletionLock: true}
	_, err := s.Create(sub)
	require.NoError(t, err)
	_, err = s.Create(sub)
	require.NoError(t, err)

	all, err := s.GetBySubscriber("AE1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.True(t, all[0].DeletionLock)
}

func TestSuspendedReplacement(t *testing.T) {
	s := NewSubscriptionStore()

	_, err := s.Create(&store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1", Suspended: true})
	require.NoError(t, err)

	created, err := s.Create(&store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1"})
	require.NoError(t, err)
	assert.False(t, created.Suspended, "a fresh create replaces the suspended row")

	all, err := s.GetBySubscriber("AE1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Suspended)
}

func TestSubscriptionLookups(t *testing.T) {
	s := NewSubscriptionStore()

	_, err := s.Create(&store.Subscription{TargetUID: "1.2.3", AETitle: "AE1"})
	require.NoError(t, err)
	_, err = s.Create(&store.Subscription{TargetUID: "1.2.3", AETitle: "AE2"})
	require.NoError(t, err)
	_, err = s.Create(&store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1"})
	require.NoError(t, err)

	byTarget, err := s.GetByTarget("1.2.3")
	require.NoError(t, err)
	assert.Len(t, byTarget, 2)

	bySub, err := s.GetBySubscriber("AE1")
	require.NoError(t, err)
	assert.Len(t, bySub, 2)

	one, err := s.Get("1.2.3", "AE2")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "AE2", one.AETitle)

	missing, err := s.Get("1.2.3", "AE9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSubscriptionDelete(t *testing.T) {
	s := NewSubscriptionStore()
	_, err := s.Create(&store.Subscription{TargetUID: "1.2.3", AETitle: "AE1"})
	require.NoError(t, err)

	removed, err := s.Delete("1.2.3", "AE1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete("1.2.3", "AE1")
	require.NoError(t, err)
	assert.False(t, removed)
}
