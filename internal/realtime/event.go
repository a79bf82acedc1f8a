// Package realtime turns row-change notifications into cache invalidations.
package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oksasatya/homekeep/internal/cache"
)

// Resources that emit change notifications.
const (
	ResourceHouseholds = "households"
	ResourceMembers    = "household_members"
	ResourceTasks      = "tasks"
	ResourceMessages   = "messages"
	ResourceAwards     = "point_awards"
)

// EventType is the kind of row change.
type EventType string

const (
	EventAll    EventType = "*"
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ParseEventType accepts the event kinds case-insensitively; empty means all.
func ParseEventType(s string) (EventType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "*":
		return EventAll, nil
	case "INSERT":
		return EventInsert, nil
	case "UPDATE":
		return EventUpdate, nil
	case "DELETE":
		return EventDelete, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// ChangeEvent is one row change as emitted by the notify trigger.
type ChangeEvent struct {
	Resource   string         `json:"table"`
	Type       EventType      `json:"type"`
	Record     map[string]any `json:"record,omitempty"`
	OldRecord  map[string]any `json:"old_record,omitempty"`
	CommitTime time.Time      `json:"commit_timestamp"`
}

// Identity reduces a row to the columns a ChangeEvent carries: id,
// household_id and user_id. A households row reports its id as household_id.
// Filters can only test these columns.
func Identity(resource string, row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, 3)
	for _, col := range [...]string{"id", "household_id", "user_id"} {
		if v, ok := row[col]; ok && v != nil {
			out[col] = v
		}
	}
	if resource == ResourceHouseholds {
		if id, ok := out["id"]; ok {
			out["household_id"] = id
		}
	}
	return out
}

// row returns the record a filter should be checked against.
func (e ChangeEvent) row() map[string]any {
	if e.Type == EventDelete || e.Record == nil {
		return e.OldRecord
	}
	return e.Record
}

// Filter restricts a channel to rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses "column=eq.value". The empty string is no filter.
func ParseFilter(s string) (*Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	col, rest, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return nil, fmt.Errorf("invalid filter %q", s)
	}
	op, val, ok := strings.Cut(rest, ".")
	if !ok || op != "eq" {
		return nil, fmt.Errorf("unsupported filter operator in %q", s)
	}
	return &Filter{Column: col, Value: val}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

func (f *Filter) match(row map[string]any) bool {
	if f == nil {
		return true
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// Descriptor names the rows to watch and the cache entry to invalidate.
type Descriptor struct {
	Resource string
	Event    EventType
	Filter   string
	Key      cache.Key
}

// Validate checks the resource and filter syntax.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Resource) == "" {
		return fmt.Errorf("resource is required")
	}
	if _, err := ParseEventType(string(d.Event)); err != nil {
		return err
	}
	_, err := ParseFilter(d.Filter)
	return err
}

// Equal compares every field including the cache key.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Resource == o.Resource && d.event() == o.event() && d.Filter == o.Filter && d.Key.Equal(o.Key)
}

func (d Descriptor) event() EventType {
	e, err := ParseEventType(string(d.Event))
	if err != nil {
		return d.Event
	}
	return e
}

// Matches reports whether ev is a change this descriptor watches.
func (d Descriptor) Matches(ev ChangeEvent) bool {
	if ev.Resource != d.Resource {
		return false
	}
	if e := d.event(); e != EventAll && e != ev.Type {
		return false
	}
	f, err := ParseFilter(d.Filter)
	if err != nil {
		return false
	}
	return f.match(ev.row())
}

// Feed delivers change events for a resource. The returned channel is closed
// when cancel is called or when the underlying connection is lost.
type Feed interface {
	Listen(ctx context.Context, resource string) (<-chan ChangeEvent, func(), error)
}

// Publisher emits change events for feeds that are not driven by database
// triggers.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	Close() error
}

// NoopPublisher is used when the database itself emits notifications.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ChangeEvent) error { return nil }
func (NoopPublisher) Close() error                               { return nil }
