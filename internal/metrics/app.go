// Package metrics holds the relay's otel instruments and the prometheus
// endpoint that exposes them.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds all the application metrics
type AppMetrics struct {
	metric.Meter

	ConnectedClients metric.Int64UpDownCounter
	ActiveRooms      metric.Int64UpDownCounter
	RegisterCalls    metric.Int64Counter
	DeregisterCalls  metric.Int64Counter
	MessagesRouted   metric.Int64Counter
	MessagesDropped  metric.Int64Counter
	DeliveriesFailed metric.Int64Counter
	RouteTimes       metric.Float64Histogram
}

func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	connectedClients, err := meter.Int64UpDownCounter("voicerelay_connected_clients")
	if err != nil {
		return nil, err
	}

	activeRooms, err := meter.Int64UpDownCounter("voicerelay_active_rooms")
	if err != nil {
		return nil, err
	}

	registerCalls, err := meter.Int64Counter("voicerelay_register_calls_total")
	if err != nil {
		return nil, err
	}

	deregisterCalls, err := meter.Int64Counter("voicerelay_deregister_calls_total")
	if err != nil {
		return nil, err
	}

	messagesRouted, err := meter.Int64Counter("voicerelay_messages_routed_total")
	if err != nil {
		return nil, err
	}

	messagesDropped, err := meter.Int64Counter("voicerelay_messages_dropped_total")
	if err != nil {
		return nil, err
	}

	deliveriesFailed, err := meter.Int64Counter("voicerelay_deliveries_failed_total")
	if err != nil {
		return nil, err
	}

	routeTimes, err := meter.Float64Histogram("voicerelay_route_times_milliseconds",
		metric.WithExplicitBucketBoundaries(getStandardBucketBoundaries()...))
	if err != nil {
		return nil, err
	}

	return &AppMetrics{
		Meter:            meter,
		ConnectedClients: connectedClients,
		ActiveRooms:      activeRooms,
		RegisterCalls:    registerCalls,
		DeregisterCalls:  deregisterCalls,
		MessagesRouted:   messagesRouted,
		MessagesDropped:  messagesDropped,
		DeliveriesFailed: deliveriesFailed,
		RouteTimes:       routeTimes,
	}, nil
}

// ClientRegistered records a new connection in the roster.
func (m *AppMetrics) ClientRegistered() {
	m.RegisterCalls.Add(context.Background(), 1)
	m.ConnectedClients.Add(context.Background(), 1)
}

// ClientDeregistered records a connection leaving the roster.
func (m *AppMetrics) ClientDeregistered() {
	m.DeregisterCalls.Add(context.Background(), 1)
	m.ConnectedClients.Add(context.Background(), -1)
}

// RoomCreated and RoomDeleted track the number of non-empty rooms.
func (m *AppMetrics) RoomCreated() {
	m.ActiveRooms.Add(context.Background(), 1)
}

func (m *AppMetrics) RoomDeleted() {
	m.ActiveRooms.Add(context.Background(), -1)
}

// Routed counts a frame that matched a known envelope type.
func (m *AppMetrics) Routed(envelopeType string, millis float64) {
	attrs := metric.WithAttributes(attribute.String("type", envelopeType))
	m.MessagesRouted.Add(context.Background(), 1, attrs)
	m.RouteTimes.Record(context.Background(), millis, attrs)
}

// Dropped counts an inbound frame that was discarded before routing.
func (m *AppMetrics) Dropped(reason string) {
	m.MessagesDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// DeliveryFailed counts an outbound frame that could not be queued for a recipient.
func (m *AppMetrics) DeliveryFailed() {
	m.DeliveriesFailed.Add(context.Background(), 1)
}

func getStandardBucketBoundaries() []float64 {
	return []float64{
		0.01,
		0.05,
		0.1,
		0.5,
		1,
		5,
		10,
		50,
		100,
	}
}
