package model

import "time"

// EventType is a well-known notification topic.
type EventType string

// Event types published by the hub.
const (
	EventEntityCreated    EventType = "entity.created"
	EventEntityUpdated    EventType = "entity.updated"
	EventObservationAdded EventType = "observation.added"
	EventStatusChanged    EventType = "status.changed"
)

// TopicAll matches every notification.
const TopicAll = "*"

// Event is what subscriber callbacks receive.
type Event struct {
	Type     EventType
	EntityID string        // empty for status events
	Entity   Entity        // snapshot after the change
	Added    []Observation // novel observations, most-recent-first
	Source   Source
	Status   *Status // set for status events
	At       time.Time
}

// Types returns the event-type topics e is published under, in dispatch order.
func (e Event) Types() []EventType {
	if e.Status != nil {
		return []EventType{EventStatusChanged}
	}
	types := []EventType{e.Type}
	if len(e.Added) > 0 && e.Type != EventObservationAdded {
		types = append(types, EventObservationAdded)
	}
	return types
}

// EventFromChange builds the notification for one mutated entity.
func EventFromChange(c Change, at time.Time) Event {
	t := EventEntityUpdated
	if c.Created {
		t = EventEntityCreated
	}
	return Event{
		Type:     t,
		EntityID: c.Entity.ID,
		Entity:   c.Entity,
		Added:    c.NewObservations,
		Source:   c.Source,
		At:       at,
	}
}

// IsEventType reports whether topic names a well-known event type.
func IsEventType(topic string) bool {
	switch EventType(topic) {
	case EventEntityCreated, EventEntityUpdated, EventObservationAdded, EventStatusChanged:
		return true
	}
	return false
}
