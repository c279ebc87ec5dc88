package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ortelius/community-site/restapi/modules/auth"
	"go.uber.org/zap"
)

// ErrInvalidEvent marks a message that can never be delivered. The relay
// commits it instead of retrying.
var ErrInvalidEvent = errors.New("invalid mail event")

// HandleMailRequested decodes a mail.requested event and delivers it through sender.
func HandleMailRequested(ctx context.Context, msg []byte, sender auth.Mailer, logger *zap.Logger) error {
	var event RequestedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal RequestedEvent: %v", ErrInvalidEvent, err)
	}

	if event.EventType != EventTypeMailRequested {
		return fmt.Errorf("%w: unexpected event type %q", ErrInvalidEvent, event.EventType)
	}
	if event.Mail.To == "" || event.Mail.Subject == "" {
		return fmt.Errorf("%w: missing recipient or subject in event %s", ErrInvalidEvent, event.EventID)
	}

	if err := sender.Send(ctx, auth.Message{
		To:      event.Mail.To,
		Subject: event.Mail.Subject,
		Body:    event.Mail.Body,
	}); err != nil {
		return fmt.Errorf("deliver event %s: %w", event.EventID, err)
	}

	logger.Sugar().Infof("Delivered mail event %s", event.EventID)
	return nil
}
