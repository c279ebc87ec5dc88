package mail

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ortelius/community-site/restapi/modules/auth"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeSender struct {
	sent []auth.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg auth.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestProducerSend(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	p := &Producer{Writer: w, now: func() time.Time { return now }}

	err := p.Send(context.Background(), auth.Message{To: "a@x.com", Subject: "Reset", Body: "<p>link</p>"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte("a@x.com"), w.messages[0].Key)

	var event RequestedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, EventTypeMailRequested, event.EventType)
	assert.Equal(t, SchemaVersion, event.SchemaVersion)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, now, event.EventTime)
	assert.Equal(t, Envelope{To: "a@x.com", Subject: "Reset", Body: "<p>link</p>"}, event.Mail)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerSendError(t *testing.T) {
	p := &Producer{Writer: &fakeWriter{err: errors.New("broker unavailable")}}
	assert.Error(t, p.Send(context.Background(), auth.Message{To: "a@x.com", Subject: "x"}))
}

func TestProducerFeedsHandler(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w}
	require.NoError(t, p.Send(context.Background(), auth.Message{To: "a@x.com", Subject: "Reset", Body: "b"}))

	sender := &fakeSender{}
	require.NoError(t, HandleMailRequested(context.Background(), w.messages[0].Value, sender, zap.NewNop()))
	assert.Equal(t, []auth.Message{{To: "a@x.com", Subject: "Reset", Body: "b"}}, sender.sent)
}

func TestHandleMailRequestedInvalid(t *testing.T) {
	sender := &fakeSender{}

	for name, payload := range map[string]string{
		"not json":     "{",
		"wrong type":   `{"event_type":"release.sbom.created","mail":{"to":"a@x.com","subject":"s"}}`,
		"no recipient": `{"event_type":"mail.requested","mail":{"subject":"s"}}`,
		"no subject":   `{"event_type":"mail.requested","mail":{"to":"a@x.com"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := HandleMailRequested(context.Background(), []byte(payload), sender, zap.NewNop())
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
	assert.Empty(t, sender.sent)
}

func TestHandleMailRequestedDeliveryFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	payload := `{"event_type":"mail.requested","event_id":"e1","mail":{"to":"a@x.com","subject":"s"}}`

	err := HandleMailRequested(context.Background(), []byte(payload), sender, zap.NewNop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidEvent)
}
