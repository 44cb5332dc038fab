package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultSubscriberBuffer = 64

type SubscriberID int

type subscriber struct {
	types map[Type]struct{}
	ch    chan Event
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an in-process Sink fanning events out to channel subscribers.
// Publish happens under a single lock so every subscriber observes events
// in publish (audit-sequence) order. A subscriber that falls behind its
// buffer loses events; the drop is logged.
type Bus struct {
	mu     sync.Mutex
	nextID SubscriberID
	subs   map[SubscriberID]*subscriber
	logger *logrus.Entry
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[SubscriberID]*subscriber),
		logger: logrus.WithField("component", "events.bus"),
	}
}

// Subscribe registers interest in the given event types; no types means all
// events. The returned channel is closed on Unsubscribe.
func (b *Bus) Subscribe(buffer int, types ...Type) (SubscriberID, <-chan Event) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{
		types: make(map[Type]struct{}, len(types)),
		ch:    make(chan Event, buffer),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish implements Sink.
func (b *Bus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event_type": event.Type,
				"clan_id":    event.ClanID,
				"sequence":   event.Sequence,
			}).Warn("subscriber buffer full, dropping event")
		}
	}
	return nil
}
