package service

import (
	"github.com/rs/zerolog"

	"github.com/carina-health/upsrs/matcher"
	"github.com/carina-health/upsrs/store"
)

// ChannelIndex is the slice of the connection manager the subscription
// service relies on: maintaining the target↔subscriber indices.
type ChannelIndex interface {
	Subscribe(aeTitle, targetUID string)
	Unsubscribe(aeTitle, targetUID string)
}

// SnapshotQueue queues initial-state reports for a subscriber and flushes
// them when the subscriber's channel is already open.
type SnapshotQueue interface {
	QueueSnapshot(aeTitle string, w *store.WorkItem)
	DrainIfConnected(aeTitle string)
}

// SubscriptionService orchestrates the subscription life cycle: the
// subscription store, the channel-registry indices, and the initial-state
// snapshots a new subscriber is entitled to.
type SubscriptionService struct {
	subs      store.SubscriptionStore
	items     store.WorkItemStore
	index     ChannelIndex
	snapshots SnapshotQueue
	log       zerolog.Logger
}

// NewSubscriptionService wires the service.
func NewSubscriptionService(subs store.SubscriptionStore, items store.WorkItemStore, index ChannelIndex, snapshots SnapshotQueue, log zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{subs: subs, items: items, index: index, snapshots: snapshots, log: log}
}

// Create registers the subscription and queues the initial snapshot the
// subscriber is entitled to: the one work item for a concrete target, every
// work item for a global subscription with the deletion lock, and every
// matching work item for a filtered subscription. Snapshot failures are
// logged; the registration itself is never rolled back.
func (s *SubscriptionService) Create(sub *store.Subscription) (*store.Subscription, error) {
	if sub.TargetUID == store.FilteredSubscriptionUID && sub.Filter == nil {
		return nil, validationf("a filtered subscription requires a filter")
	}
	if sub.TargetUID != store.FilteredSubscriptionUID {
		sub.Filter = nil
	}

	s.index.Subscribe(sub.AETitle, sub.TargetUID)

	created, err := s.subs.Create(sub)
	if err != nil {
		return nil, internal(err)
	}
	s.log.Info().Str("ae_title", sub.AETitle).Str("target", sub.TargetUID).Msg("subscription created")

	if err := s.queueInitialSnapshot(created); err != nil {
		s.log.Error().Err(err).Str("ae_title", sub.AETitle).Msg("initial snapshot failed")
	}
	return created, nil
}

func (s *SubscriptionService) queueInitialSnapshot(sub *store.Subscription) error {
	switch sub.TargetUID {
	case store.GlobalSubscriptionUID:
		if !sub.DeletionLock {
			return nil
		}
		items, err := s.items.ListAll()
		if err != nil {
			return err
		}
		for _, w := range items {
			s.snapshots.QueueSnapshot(sub.AETitle, w)
		}

	case store.FilteredSubscriptionUID:
		items, err := s.items.ListAll()
		if err != nil {
			return err
		}
		for _, w := range items {
			if matcher.Match(sub.Filter, w.DS) {
				s.snapshots.QueueSnapshot(sub.AETitle, w)
			}
		}

	default:
		w, err := s.items.Get(sub.TargetUID)
		if err != nil {
			return err
		}
		if w != nil {
			s.snapshots.QueueSnapshot(sub.AETitle, w)
		}
	}

	s.snapshots.DrainIfConnected(sub.AETitle)
	return nil
}

// Delete removes the subscription and its registry index entry, reporting
// whether a subscription existed.
func (s *SubscriptionService) Delete(targetUID, aeTitle string) (bool, error) {
	s.index.Unsubscribe(aeTitle, targetUID)
	removed, err := s.subs.Delete(targetUID, aeTitle)
	if err != nil {
		return false, internal(err)
	}
	if removed {
		s.log.Info().Str("ae_title", aeTitle).Str("target", targetUID).Msg("subscription deleted")
	}
	return removed, nil
}

// Suspend replaces the matching non-suspended subscription with a suspended
// copy and removes the registry index entry. It reports false when no
// active subscription exists.
func (s *SubscriptionService) Suspend(targetUID, aeTitle string) (bool, error) {
	cur, err := s.subs.Get(targetUID, aeTitle)
	if err != nil {
		return false, internal(err)
	}
	if cur == nil || cur.Suspended {
		return false, nil
	}

	suspended := cur.Clone()
	suspended.Suspended = true

	s.index.Unsubscribe(aeTitle, targetUID)
	if _, err := s.subs.Delete(targetUID, aeTitle); err != nil {
		return false, internal(err)
	}
	if _, err := s.subs.Create(suspended); err != nil {
		return false, internal(err)
	}
	s.log.Info().Str("ae_title", aeTitle).Str("target", targetUID).Msg("subscription suspended")
	return true, nil
}
