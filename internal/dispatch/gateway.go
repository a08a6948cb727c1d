// Package dispatch hands reconstructed command lines to an async transport
// and consumes them on the other side.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"cmdbridge/internal/model"
)

var ErrUnavailable = errors.New("async dispatch is unavailable: no transport configured")

const (
	DefaultTopic       = "cmdbridge.commands"
	MetadataCommandKey = "command"
)

// RunCommandMessage is the payload published for every dispatched command.
// Input is the display form of the command line. When Command is set the
// consumer runs the structured values and never re-parses Input.
type RunCommandMessage struct {
	Input     string       `json:"input"`
	Command   string       `json:"command,omitempty"`
	Arguments model.Values `json:"arguments,omitempty"`
	Options   model.Values `json:"options,omitempty"`
}

// Structured reports whether the message carries normalized values.
func (m RunCommandMessage) Structured() bool {
	return strings.TrimSpace(m.Command) != ""
}

func (m RunCommandMessage) ModelInput() model.Input {
	return model.Input{
		Command:   strings.TrimSpace(m.Command),
		Arguments: m.Arguments,
		Options:   m.Options,
	}
}

type Ack struct {
	MessageID string `json:"message_id"`
	Topic     string `json:"topic"`
}

type Gateway struct {
	publisher message.Publisher
	topic     string
	logger    watermill.LoggerAdapter
}

// NewGateway returns a gateway that publishes to topic. A nil publisher
// yields a gateway that reports ErrUnavailable.
func NewGateway(publisher message.Publisher, topic string, logger watermill.LoggerAdapter) *Gateway {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Gateway{publisher: publisher, topic: topic, logger: logger}
}

func (g *Gateway) Available() bool {
	return g != nil && g.publisher != nil
}

func (g *Gateway) Topic() string {
	return g.topic
}

// Dispatch publishes a bare command line that the consumer parses.
func (g *Gateway) Dispatch(ctx context.Context, cli string) (Ack, error) {
	return g.DispatchInput(ctx, cli, model.Input{})
}

// DispatchInput publishes cli together with the normalized input it was
// built from and returns once the transport accepted it.
func (g *Gateway) DispatchInput(ctx context.Context, cli string, input model.Input) (Ack, error) {
	if !g.Available() {
		return Ack{}, ErrUnavailable
	}
	cli = strings.TrimSpace(cli)
	if cli == "" {
		return Ack{}, errors.New("command line is required")
	}
	payload, err := json.Marshal(RunCommandMessage{
		Input:     cli,
		Command:   strings.TrimSpace(input.Command),
		Arguments: input.Arguments,
		Options:   input.Options,
	})
	if err != nil {
		return Ack{}, errors.Wrap(err, "marshal run command message")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if name, _, _ := strings.Cut(cli, " "); name != "" {
		msg.Metadata.Set(MetadataCommandKey, name)
	}
	if err := g.publisher.Publish(g.topic, msg); err != nil {
		return Ack{}, errors.Wrapf(err, "publish to %s", g.topic)
	}
	g.logger.Debug("command dispatched", watermill.LogFields{
		"message_uuid": msg.UUID,
		"topic":        g.topic,
	})
	return Ack{MessageID: msg.UUID, Topic: g.topic}, nil
}

func decodeRunCommandMessage(msg *message.Message) (RunCommandMessage, error) {
	var payload RunCommandMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return RunCommandMessage{}, errors.Wrap(err, "decode run command message")
	}
	if strings.TrimSpace(payload.Input) == "" {
		return RunCommandMessage{}, errors.New("run command message has empty input")
	}
	return payload, nil
}
