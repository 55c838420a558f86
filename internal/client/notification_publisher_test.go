package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
)

type sent struct {
	subject string
	data    []byte
}

func TestNotifyPublishesOnPrefixedSubject(t *testing.T) {
	var got []sent
	p := newNotificationPublisher(func(_ context.Context, subject string, data []byte) error {
		got = append(got, sent{subject, data})
		return nil
	}, "notifications.acq", zerolog.Nop())

	p.Notify(context.Background(), domain.Notification{
		EventType:  domain.EventApprovalRequired,
		RequestID:  "req-1",
		Recipients: []string{"ko"},
		Payload:    map[string]interface{}{"step_number": 5},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "notifications.acq.approval_required", got[0].subject)

	var decoded domain.Notification
	require.NoError(t, json.Unmarshal(got[0].data, &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, "info", decoded.Severity)
	assert.Equal(t, []string{"ko"}, decoded.Recipients)
}

func TestNotifySkipsEventsWithoutRecipients(t *testing.T) {
	calls := 0
	p := newNotificationPublisher(func(context.Context, string, []byte) error {
		calls++
		return nil
	}, "n", zerolog.Nop())

	p.Notify(context.Background(), domain.Notification{EventType: "x", RequestID: "r"})
	assert.Zero(t, calls)
}

func TestNotifyWithoutBusIsNoop(t *testing.T) {
	p := NewNotificationPublisher(nil, "n", zerolog.Nop())
	assert.NotPanics(t, func() {
		p.Notify(context.Background(), domain.Notification{EventType: "x", Recipients: []string{"ko"}})
	})
}

func TestNotifyFailuresTripBreaker(t *testing.T) {
	calls := 0
	p := newNotificationPublisher(func(context.Context, string, []byte) error {
		calls++
		return errors.New("nats: no responders available for request")
	}, "n", zerolog.Nop())

	ev := domain.Notification{EventType: "x", RequestID: "r", Recipients: []string{"ko"}}
	for i := 0; i < 8; i++ {
		p.Notify(context.Background(), ev)
	}

	assert.Equal(t, 5, calls, "open breaker stops publish attempts")
	assert.Equal(t, gobreaker.StateOpen, p.breaker.State())
}
