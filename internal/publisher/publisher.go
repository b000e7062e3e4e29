// Package publisher pushes engine events to NATS JetStream for downstream
// consumers. Publishing is best-effort: the engine's publish channel drops
// under backpressure and consumers recover from the Postgres event log.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TickVault/internal/core"
	"TickVault/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamName is the outbound JetStream stream.
const StreamName = "TICKVAULT_EVENTS"

// Publisher drains the engine's publish channel onto JetStream subjects
// tickvault.events.{kind_name}.
type Publisher struct {
	js     jetstream.JetStream
	input  <-chan core.Output
	logger zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan core.Output) *Publisher {
	return &Publisher{
		js:     js,
		input:  input,
		logger: observability.NewLogger("publisher"),
	}
}

// Run publishes until ctx is cancelled or the channel closes. Publish
// failures are logged and skipped; the event log is the source of truth.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				p.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Str("kind", out.Envelope.KindName).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out core.Output) error {
	data, err := json.Marshal(out.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	subject := fmt.Sprintf("tickvault.events.%s", out.Envelope.KindName)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the outbound stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"tickvault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// Connect establishes a NATS connection and returns a JetStream context.
// Reconnects forever; the publisher tolerates gaps.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
