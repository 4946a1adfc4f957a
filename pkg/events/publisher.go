package events

import "context"

// EventPublisher is the interface for publishing fleet change events.
type EventPublisher interface {
	PublishChanged(ctx context.Context, event *FleetChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for receiver runs without a broker).
type NoOpPublisher struct{}

// PublishChanged is a no-op.
func (p *NoOpPublisher) PublishChanged(_ context.Context, _ *FleetChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *FleetChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *FleetChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishChanged calls the callback.
func (p *CallbackPublisher) PublishChanged(ctx context.Context, event *FleetChangedEvent) error {
	return p.callback(ctx, event)
}
