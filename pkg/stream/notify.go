package stream

import "context"

// Notification is the envelope published on live-update channels consumed by
// dashboards.
type Notification struct {
	Event   string         `json:"event"`
	Channel string         `json:"channel"`
	Data    map[string]any `json:"data"`
}

// Notify publishes an event envelope on the given channel. Callers treat the
// result as best-effort; a failed notification never fails the operation that
// produced it.
func Notify(ctx context.Context, store Store, channel, event string, data map[string]any) error {
	if store == nil || channel == "" {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}
	return store.Publish(ctx, channel, Notification{
		Event:   event,
		Channel: channel,
		Data:    data,
	})
}
