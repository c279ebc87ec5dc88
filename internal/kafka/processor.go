// Package kafka runs the consumer that relays queued mail events to SMTP.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/community-site/events/modules/mail"
	"github.com/ortelius/community-site/restapi/modules/auth"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// Config locates the brokers and the mail topic
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Username string
	Password string
}

func (c Config) secure() bool {
	return c.Username != "" && c.Password != ""
}

// Dialer returns a dialer using SASL/PLAIN over TLS when credentials are set
func (c Config) Dialer() *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if c.secure() {
		dialer.SASLMechanism = plain.Mechanism{Username: c.Username, Password: c.Password}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}

// Transport returns the writer transport matching Dialer, or nil for a plain local broker
func (c Config) Transport() kafka.RoundTripper {
	if !c.secure() {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: c.Username, Password: c.Password},
		TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// messageReader is the part of *kafka.Reader the relay uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunMailRelay checks the brokers are reachable, then consumes mail events in
// the background until ctx is cancelled
func RunMailRelay(ctx context.Context, cfg Config, sender auth.Mailer, logger *zap.Logger) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	dialer := cfg.Dialer()

	var err error
	for i := 1; i <= 3; i++ {
		logger.Sugar().Infof("Kafka connection attempt %d/3...", i)
		var conn *kafka.Conn
		if conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0]); err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		logger.Sugar().Infof("Mail relay started. Listening on %s...", cfg.Topic)
		consume(ctx, reader, sender, logger, newRetryPolicy, newFetchPolicy())
	}()

	return nil
}

// maxFetchWait bounds the pause between fetches when fetchPolicy stops
const maxFetchWait = 30 * time.Second

func newRetryPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 5 * time.Minute
	return bo
}

// newFetchPolicy spaces out fetches while the brokers keep failing. It never
// gives up; the relay runs until its context ends.
func newFetchPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// consume delivers each message with retries and commits it once it is sent,
// rejected as invalid, or out of retries. fetchPolicy paces fetch failures.
func consume(ctx context.Context, reader messageReader, sender auth.Mailer, logger *zap.Logger, policy func() backoff.BackOff, fetchPolicy backoff.BackOff) {
	defer reader.Close()

	fetchPolicy.Reset()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := fetchPolicy.NextBackOff()
			if wait == backoff.Stop {
				wait = maxFetchWait
			}
			logger.Sugar().Warnf("Failed to fetch mail event, retrying in %s: %v", wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		fetchPolicy.Reset()

		err = backoff.RetryNotify(func() error {
			err := mail.HandleMailRequested(ctx, msg.Value, sender, logger)
			if errors.Is(err, mail.ErrInvalidEvent) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(policy(), ctx), func(err error, next time.Duration) {
			logger.Sugar().Warnf("Retrying mail delivery in %s: %v", next, err)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Sugar().Errorf("Dropping mail event at offset %d: %v", msg.Offset, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Sugar().Warnf("Failed to commit mail event at offset %d: %v", msg.Offset, err)
		}
	}
}
