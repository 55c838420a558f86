package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
)

// publishFunc sends one message. It is a field so tests can replace the
// transport.
type publishFunc func(ctx context.Context, subject string, data []byte) error

// NotificationPublisher publishes request workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g.
// notifications.acq.approval_required.
//
// Publishing is fire-and-forget: errors are logged and never returned, so a
// notification outage cannot roll back or fail a workflow operation. A
// circuit breaker stops publish attempts while the bus is down.
type NotificationPublisher struct {
	publish publishFunc
	breaker *gobreaker.CircuitBreaker
	prefix  string
	timeout time.Duration
	log     zerolog.Logger
}

// ConnectNATS dials url and returns the connection with a JetStream context.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewNotificationPublisher creates a publisher on js. A nil js yields a
// publisher that drops every event, for deployments without a bus.
func NewNotificationPublisher(js jetstream.JetStream, prefix string, log zerolog.Logger) *NotificationPublisher {
	var fn publishFunc
	if js != nil {
		fn = func(ctx context.Context, subject string, data []byte) error {
			_, err := js.Publish(ctx, subject, data)
			return err
		}
	}
	return newNotificationPublisher(fn, prefix, log)
}

func newNotificationPublisher(fn publishFunc, prefix string, log zerolog.Logger) *NotificationPublisher {
	settings := gobreaker.Settings{
		Name:        "nats-notifications",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notification: circuit breaker state changed")
		},
	}
	return &NotificationPublisher{
		publish: fn,
		breaker: gobreaker.NewCircuitBreaker(settings),
		prefix:  prefix,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Notify publishes event. It never fails; problems are logged.
func (p *NotificationPublisher) Notify(ctx context.Context, event domain.Notification) {
	if p.publish == nil {
		return
	}
	if len(event.Recipients) == 0 {
		return
	}
	if event.Severity == "" {
		event.Severity = "info"
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, event.EventType)

	// The caller's request may already be finished; publish on a detached
	// context bounded by the publisher's own timeout.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publish(pubCtx, subject, data)
	})
	if err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", event.RequestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", event.RequestID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
