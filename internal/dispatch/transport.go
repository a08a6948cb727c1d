package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"cmdbridge/internal/policy"
)

// Transport bundles the publisher and subscriber of one configured driver.
// Both are nil for the "none" driver.
type Transport struct {
	Driver     string
	Topic      string
	Publisher  message.Publisher
	Subscriber message.Subscriber

	client *redis.Client
}

// Open builds the transport described by cfg. The redis driver checks
// connectivity with a bounded number of attempts before returning.
func Open(ctx context.Context, cfg policy.Transport, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = policy.TransportNone
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	transport := &Transport{Driver: driver, Topic: topic}

	switch driver {
	case policy.TransportNone:
		return transport, nil
	case policy.TransportMemory:
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger)
		transport.Publisher = pubSub
		transport.Subscriber = pubSub
		return transport, nil
	case policy.TransportRedis:
		if err := transport.openRedis(ctx, cfg.Redis, logger); err != nil {
			return nil, err
		}
		return transport, nil
	default:
		return nil, errors.Errorf("unsupported transport driver %q", driver)
	}
}

func (t *Transport) openRedis(ctx context.Context, cfg policy.Redis, logger watermill.LoggerAdapter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	redisOptions, err := redis.ParseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(redisOptions)

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	err = retry.Retry(func(attempt uint) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, strategy.Limit(uint(attempts)), strategy.Backoff(backoff.Linear(100*time.Millisecond)))
	if err != nil {
		_ = client.Close()
		return errors.Wrapf(err, "connect to redis at %s", redisOptions.Addr)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: client,
	}, logger)
	if err != nil {
		_ = client.Close()
		return errors.Wrap(err, "create redis stream publisher")
	}
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: strings.TrimSpace(cfg.ConsumerGroup),
		Consumer:      strings.TrimSpace(cfg.Consumer),
	}, logger)
	if err != nil {
		_ = publisher.Close()
		_ = client.Close()
		return errors.Wrap(err, "create redis stream subscriber")
	}

	t.client = client
	t.Publisher = publisher
	t.Subscriber = subscriber
	return nil
}

// Available reports whether messages can be published.
func (t *Transport) Available() bool {
	return t != nil && t.Publisher != nil
}

// Gateway returns a gateway publishing on the transport topic.
func (t *Transport) Gateway(logger watermill.LoggerAdapter) *Gateway {
	if t == nil {
		return NewGateway(nil, "", logger)
	}
	return NewGateway(t.Publisher, t.Topic, logger)
}

func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.Publisher != nil {
		keep(t.Publisher.Close())
	}
	// the memory driver uses one instance for both sides
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		keep(t.Subscriber.Close())
	}
	if t.client != nil {
		keep(t.client.Close())
	}
	return firstErr
}
