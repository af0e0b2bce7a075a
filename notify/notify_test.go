package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/events"
	"github.com/carina-health/upsrs/store"
	"github.com/carina-health/upsrs/store/memory"
)

func TestPendingQueueFIFO(t *testing.T) {
	q := NewPendingQueue(0, zerolog.Nop())

	q.Append("AE1", []byte("a"))
	q.Append("AE1", []byte("b"))
	q.Append("AE2", []byte("x"))

	frames := q.Drain("AE1")
	require.Len(t, frames, 2)
	assert.Equal(t, "a", string(frames[0]))
	assert.Equal(t, "b", string(frames[1]))

	assert.Empty(t, q.Drain("AE1"), "drain empties the queue")
	assert.Equal(t, 1, q.Len("AE2"))
}

func TestPendingQueueOverflowDropsOldest(t *testing.T) {
	q := NewPendingQueue(2, zerolog.Nop())

	q.Append("AE1", []byte("a"))
	q.Append("AE1", []byte("b"))
	q.Append("AE1", []byte("c"))

	frames := q.Drain("AE1")
	require.Len(t, frames, 2)
	assert.Equal(t, "b", string(frames[0]))
	assert.Equal(t, "c", string(frames[1]))
}

func TestSubscribeIndexes(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	m.Subscribe("AE1", "1.2.3")
	m.Subscribe("AE1", "1.2.3") // idempotent
	m.Subscribe("AE2", "1.2.3")

	assert.ElementsMatch(t, []string{"AE1", "AE2"}, m.SubscribersFor("1.2.3"))

	m.Unsubscribe("AE1", "1.2.3")
	assert.ElementsMatch(t, []string{"AE2"}, m.SubscribersFor("1.2.3"))
	assert.Empty(t, m.SubscribersFor("9.9.9"))
}

func TestSendWithoutChannel(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	assert.False(t, m.Send("AE1", []byte("frame")))
	assert.False(t, m.IsConnected("AE1"))
}

// dialTestChannel stands up a registry behind an httptest server and opens a
// client websocket for the given AE title.
func dialTestChannel(t *testing.T, m *ConnectionManager, aet string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Accept(conn, aet)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The registry records the channel between upgrade and the read loop;
	// wait for it to appear.
	require.Eventually(t, func() bool { return m.IsConnected(aet) }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) dicom.Dataset {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ds dicom.Dataset
	require.NoError(t, json.Unmarshal(raw, &ds))
	return ds
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(within)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame")
}

func TestSendAndConnectCallback(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	connected := make(chan string, 1)
	m.RegisterConnectCallback(func(aet string) { connected <- aet })

	conn := dialTestChannel(t, m, "AE1")

	select {
	case aet := <-connected:
		assert.Equal(t, "AE1", aet)
	case <-time.After(time.Second):
		t.Fatal("connect callback not invoked")
	}

	require.True(t, m.Send("AE1", []byte(`{"00001002":{"vr":"US","Value":[1]}}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, "1", frame.GetString(dicom.TagEventTypeID))
}

func TestPanickingCallbackDoesNotKillChannel(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	m.RegisterConnectCallback(func(string) { panic("boom") })

	called := make(chan struct{}, 1)
	m.RegisterConnectCallback(func(string) { called <- struct{}{} })

	conn := dialTestChannel(t, m, "AE1")

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("second callback not invoked after first panicked")
	}

	require.True(t, m.Send("AE1", []byte(`{}`)))
	readFrame(t, conn)
}

func TestPeerCloseRemovesChannel(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	conn := dialTestChannel(t, m, "AE1")

	conn.Close()
	require.Eventually(t, func() bool { return !m.IsConnected("AE1") }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Send("AE1", []byte("frame")))
}

// ---- notification service ----

type notifyFixture struct {
	conns    *ConnectionManager
	subs     *memory.SubscriptionStore
	notifier *NotificationService
}

func newNotifyFixture(t *testing.T) *notifyFixture {
	t.Helper()
	conns := NewConnectionManager(zerolog.Nop())
	subs := memory.NewSubscriptionStore()
	return &notifyFixture{
		conns:    conns,
		subs:     subs,
		notifier: NewNotificationService(conns, subs, 0, zerolog.Nop()),
	}
}

func (f *notifyFixture) subscribe(t *testing.T, sub *store.Subscription) {
	t.Helper()
	_, err := f.subs.Create(sub)
	require.NoError(t, err)
	f.conns.Subscribe(sub.AETitle, sub.TargetUID)
}

func workItem(uid, state string) *store.WorkItem {
	ds := dicom.Dataset{}
	ds.SetString(dicom.TagSOPInstanceUID, "UI", uid)
	ds.SetString(dicom.TagProcedureStepState, "CS", state)
	st, _ := store.ParseState(state)
	return &store.WorkItem{UID: uid, State: st, DS: ds}
}

func TestCreationFanOutToGlobalSubscriber(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1"})
	conn := dialTestChannel(t, f.conns, "AE1")

	f.notifier.NotifyCreation(workItem("1.2.3", "SCHEDULED"))

	first := readFrame(t, conn)
	assert.Equal(t, "1", first.GetString(dicom.TagEventTypeID), "State report first")
	assert.Equal(t, "1.2.3", first.GetString(dicom.TagAffectedSOPInstanceUID))

	second := readFrame(t, conn)
	assert.Equal(t, "5", second.GetString(dicom.TagEventTypeID), "Assigned report second")
	assert.Equal(t, "1.2.3", second.GetString(dicom.TagAffectedSOPInstanceUID))
}

func TestOfflineSubscriberGetsQueuedEventsOnConnect(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE6"})

	f.notifier.NotifyCreation(workItem("1.2.8", "SCHEDULED"))

	conn := dialTestChannel(t, f.conns, "AE6")
	first := readFrame(t, conn)
	assert.Equal(t, "1.2.8", first.GetString(dicom.TagAffectedSOPInstanceUID))
	assert.Equal(t, "1", first.GetString(dicom.TagEventTypeID))
	second := readFrame(t, conn)
	assert.Equal(t, "5", second.GetString(dicom.TagEventTypeID))
}

func TestSuspendedSubscriberIsSkipped(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1", Suspended: true})
	conn := dialTestChannel(t, f.conns, "AE1")

	f.notifier.NotifyCreation(workItem("1.2.3", "SCHEDULED"))
	expectNoFrame(t, conn, 200*time.Millisecond)
}

func TestFilteredSubscriberMatchEvaluatedAtNotifyTime(t *testing.T) {
	f := newNotifyFixture(t)
	filter := dicom.Dataset{}
	filter.SetString(dicom.TagProcedureStepState, "CS", "SCHEDULED")
	f.subscribe(t, &store.Subscription{
		TargetUID: store.FilteredSubscriptionUID,
		AETitle:   "AE2",
		Filter:    filter,
	})
	conn := dialTestChannel(t, f.conns, "AE2")

	f.notifier.NotifyStatusChange(workItem("1.2.3", "SCHEDULED"))
	frame := readFrame(t, conn)
	assert.Equal(t, "1.2.3", frame.GetString(dicom.TagAffectedSOPInstanceUID))

	// The same item after claiming no longer matches the filter.
	f.notifier.NotifyStatusChange(workItem("1.2.3", "IN PROGRESS"))
	expectNoFrame(t, conn, 200*time.Millisecond)
}

func TestDirectSubscriberOnlySeesItsItem(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: "1.2.3", AETitle: "AE1"})
	conn := dialTestChannel(t, f.conns, "AE1")

	f.notifier.NotifyStatusChange(workItem("9.9.9", "SCHEDULED"))
	f.notifier.NotifyStatusChange(workItem("1.2.3", "SCHEDULED"))

	// Only the subscribed item's event arrives.
	frame := readFrame(t, conn)
	assert.Equal(t, "1.2.3", frame.GetString(dicom.TagAffectedSOPInstanceUID))
}

func TestProgressEventWhenRecordCarriesProgress(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1"})
	conn := dialTestChannel(t, f.conns, "AE1")

	w := workItem("1.2.3", "IN PROGRESS")
	progress := dicom.Dataset{}
	progress.SetString(dicom.TagProcedureStepProgress, "DS", "40")
	w.DS.SetSequence(dicom.TagProcedureStepProgressInformationSequence, progress)

	f.notifier.NotifyStatusChange(w)
	frame := readFrame(t, conn)
	assert.Equal(t, "3", frame.GetString(dicom.TagEventTypeID))
}

func TestQueuedThenLiveOrdering(t *testing.T) {
	f := newNotifyFixture(t)
	f.subscribe(t, &store.Subscription{TargetUID: store.GlobalSubscriptionUID, AETitle: "AE1"})

	// Generated while offline.
	f.notifier.NotifyStatusChange(workItem("1.1", "SCHEDULED"))

	conn := dialTestChannel(t, f.conns, "AE1")

	// Generated after reconnect.
	f.notifier.NotifyStatusChange(workItem("1.2", "SCHEDULED"))

	first := readFrame(t, conn)
	assert.Equal(t, "1.1", first.GetString(dicom.TagAffectedSOPInstanceUID), "drained events precede live ones")
	second := readFrame(t, conn)
	assert.Equal(t, "1.2", second.GetString(dicom.TagAffectedSOPInstanceUID))
}

func TestBroadcastSCPStatus(t *testing.T) {
	f := newNotifyFixture(t)
	conn1 := dialTestChannel(t, f.conns, "AE1")
	conn2 := dialTestChannel(t, f.conns, "AE2")

	f.notifier.BroadcastSCPStatus(events.SCPStatusGoingDown, events.ListStatusWarmStart, events.ListStatusWarmStart)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		assert.Equal(t, "4", frame.GetString(dicom.TagEventTypeID))
		assert.Equal(t, "GOING DOWN", frame.GetString(dicom.TagSCPStatus))
	}
}

func TestSnapshotQueueAndDrainIfConnected(t *testing.T) {
	f := newNotifyFixture(t)
	conn := dialTestChannel(t, f.conns, "AE1")

	f.notifier.QueueSnapshot("AE1", workItem("1.2.3", "SCHEDULED"))
	f.notifier.DrainIfConnected("AE1")

	frame := readFrame(t, conn)
	assert.Equal(t, "1.2.3", frame.GetString(dicom.TagAffectedSOPInstanceUID))
	assert.Equal(t, "1", frame.GetString(dicom.TagEventTypeID))
}
