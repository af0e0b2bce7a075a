package notify

import (
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/events"
	"github.com/carina-health/upsrs/matcher"
	"github.com/carina-health/upsrs/metrics"
	"github.com/carina-health/upsrs/store"
)

// NotificationService routes event reports from committed mutations to the
// subscribers entitled to them: direct subscribers of the work item, global
// subscribers, and filtered subscribers whose query matches the current
// record. Events for offline subscribers land on the pending queue, which is
// drained when the subscriber's channel connects.
type NotificationService struct {
	conns   *ConnectionManager
	subs    store.SubscriptionStore
	builder *events.Builder
	pending *PendingQueue
	log     zerolog.Logger
}

// NewNotificationService wires the service and registers the reconnect
// drain on the connection manager.
func NewNotificationService(conns *ConnectionManager, subs store.SubscriptionStore, pendingCap int, log zerolog.Logger) *NotificationService {
	n := &NotificationService{
		conns:   conns,
		subs:    subs,
		builder: events.NewBuilder(),
		pending: NewPendingQueue(pendingCap, log),
		log:     log,
	}
	conns.RegisterConnectCallback(n.drain)
	return n
}

// NotifyCreation emits the creation pair for a new work item: a State
// report followed by an Assigned report.
func (n *NotificationService) NotifyCreation(w *store.WorkItem) {
	n.deliver(w, n.builder.State(w, ""), events.TypeState)
	n.deliver(w, n.builder.Assigned(w), events.TypeAssigned)
}

// NotifyStatusChange emits a Progress report when the record carries
// progress information and is not canceled, otherwise a State report with
// any cancellation reason the record carries.
func (n *NotificationService) NotifyStatusChange(w *store.WorkItem) {
	if w.DS.Has(dicom.TagProcedureStepProgressInformationSequence) && w.State != store.StateCanceled {
		n.deliver(w, n.builder.Progress(w), events.TypeProgress)
		return
	}
	reason := w.DS.GetString(dicom.TagReasonForCancellation)
	n.deliver(w, n.builder.State(w, reason), events.TypeState)
}

// NotifyCancelRequested emits a Cancel Requested report for an in-progress
// work item whose cancellation was requested by another AE.
func (n *NotificationService) NotifyCancelRequested(w *store.WorkItem, requestingAE, reason, contactURI, contactDisplayName string) {
	n.deliver(w, n.builder.CancelRequested(w, requestingAE, reason, contactURI, contactDisplayName), events.TypeCancelRequested)
}

// BroadcastSCPStatus sends an SCP Status Change report to every open
// channel, bypassing subscription resolution.
func (n *NotificationService) BroadcastSCPStatus(scpStatus, subscriptionListStatus, upsListStatus string) {
	evt := n.builder.SCPStatusChange(scpStatus, subscriptionListStatus, upsListStatus)
	metrics.EventsBuilt.WithLabelValues(typeLabel(events.TypeSCPStatusChange)).Inc()
	frame, err := json.Marshal(evt)
	if err != nil {
		n.log.Error().Err(err).Msg("encode scp status report")
		return
	}
	n.conns.Broadcast(frame)
}

// QueueSnapshot places an initial-state report for the work item on the
// subscriber's pending queue. The caller follows up with DrainIfConnected so
// an already-open channel receives the snapshot immediately.
func (n *NotificationService) QueueSnapshot(aeTitle string, w *store.WorkItem) {
	evt := n.builder.State(w, "")
	metrics.EventsBuilt.WithLabelValues(typeLabel(events.TypeState)).Inc()
	frame, err := json.Marshal(evt)
	if err != nil {
		n.log.Error().Err(err).Str("uid", w.UID).Msg("encode snapshot report")
		return
	}
	n.pending.Append(aeTitle, frame)
	metrics.EventsQueued.Inc()
}

// DrainIfConnected flushes the subscriber's pending queue when a channel is
// open. Without a channel the queue is left intact for the next connect.
func (n *NotificationService) DrainIfConnected(aeTitle string) {
	if n.conns.IsConnected(aeTitle) {
		n.drain(aeTitle)
	}
}

// drain sends every queued frame in order. Send failures are logged and the
// queue is emptied regardless: queued events are delivered at most once.
func (n *NotificationService) drain(aeTitle string) {
	frames := n.pending.Drain(aeTitle)
	for _, frame := range frames {
		if n.conns.Send(aeTitle, frame) {
			metrics.EventsDelivered.Inc()
		} else {
			n.log.Warn().Str("ae_title", aeTitle).Msg("dropping queued event, send failed")
		}
	}
}

// deliver resolves the subscriber set for the event and hands the frame to
// each subscriber's channel, or to the pending queue when no channel is
// open. Fan-out never fails the originating mutation.
func (n *NotificationService) deliver(w *store.WorkItem, evt dicom.Dataset, t events.Type) {
	metrics.EventsBuilt.WithLabelValues(typeLabel(t)).Inc()

	frame, err := json.Marshal(evt)
	if err != nil {
		n.log.Error().Err(err).Str("uid", w.UID).Msg("encode event report")
		return
	}

	for _, ae := range n.resolve(w) {
		// A non-empty backlog means earlier events are still queued; this
		// frame must line up behind them even when a channel is open, or a
		// reconnecting subscriber would see events out of order.
		if n.pending.Len(ae) == 0 && n.conns.Send(ae, frame) {
			metrics.EventsDelivered.Inc()
			continue
		}
		n.pending.Append(ae, frame)
		metrics.EventsQueued.Inc()
		// The channel may have connected between the failed send and the
		// append; a drain here keeps the frame from stranding.
		n.DrainIfConnected(ae)
	}
}

// resolve computes the entitled subscriber set: direct ∪ global ∪ matching
// filtered, minus subscribers whose only entitling subscription is
// suspended. Filters are evaluated against the record as it stands now.
func (n *NotificationService) resolve(w *store.WorkItem) []string {
	entitled := make(map[string]bool)

	for _, ae := range n.conns.SubscribersFor(w.UID) {
		if n.activeSubscription(w.UID, ae) {
			entitled[ae] = true
		}
	}
	for _, ae := range n.conns.SubscribersFor(store.GlobalSubscriptionUID) {
		if entitled[ae] {
			continue
		}
		if n.activeSubscription(store.GlobalSubscriptionUID, ae) {
			entitled[ae] = true
		}
	}
	for _, ae := range n.conns.SubscribersFor(store.FilteredSubscriptionUID) {
		if entitled[ae] {
			continue
		}
		if n.filterMatches(ae, w) {
			entitled[ae] = true
		}
	}

	out := make([]string, 0, len(entitled))
	for ae := range entitled {
		out = append(out, ae)
	}
	return out
}

func (n *NotificationService) activeSubscription(targetUID, aeTitle string) bool {
	sub, err := n.subs.Get(targetUID, aeTitle)
	if err != nil {
		n.log.Error().Err(err).Str("ae_title", aeTitle).Msg("subscription lookup failed")
		return false
	}
	return sub != nil && !sub.Suspended
}

func (n *NotificationService) filterMatches(aeTitle string, w *store.WorkItem) bool {
	subs, err := n.subs.GetBySubscriber(aeTitle)
	if err != nil {
		n.log.Error().Err(err).Str("ae_title", aeTitle).Msg("subscription lookup failed")
		return false
	}
	for _, sub := range subs {
		if sub.TargetUID != store.FilteredSubscriptionUID || sub.Suspended {
			continue
		}
		if matcher.Match(sub.Filter, w.DS) {
			return true
		}
	}
	return false
}

func typeLabel(t events.Type) string {
	switch t {
	case events.TypeState:
		return "state"
	case events.TypeCancelRequested:
		return "cancel_requested"
	case events.TypeProgress:
		return "progress"
	case events.TypeSCPStatusChange:
		return "scp_status_change"
	case events.TypeAssigned:
		return "assigned"
	}
	return strconv.Itoa(int(t))
}
