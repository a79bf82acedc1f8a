package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/realtime"
)

// notifier emits change events after a successful mutation. Publishing is
// best effort; a lost event only delays invalidation on other instances.
// Events carry only identifying columns, matching the database trigger.
type notifier struct {
	pub    realtime.Publisher
	logger *logrus.Logger
}

func (n notifier) publish(ctx context.Context, resource string, typ realtime.EventType, rec any) {
	if n.pub == nil {
		return
	}
	ev := realtime.ChangeEvent{Resource: resource, Type: typ, CommitTime: time.Now().UTC()}
	row := realtime.Identity(resource, toRecord(rec))
	if typ == realtime.EventDelete {
		ev.OldRecord = row
	} else {
		ev.Record = row
	}
	if err := n.pub.Publish(ctx, ev); err != nil && n.logger != nil {
		n.logger.WithError(err).WithField("table", resource).Warn("publish change event failed")
	}
}

func toRecord(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}
