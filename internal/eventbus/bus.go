package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	TopicCommandDispatched    = "edrconsole.command.dispatched"
	TopicBulkCompleted        = "edrconsole.bulk.completed"
	TopicCommandStatusChanged = "edrconsole.command.status_changed"
	TopicPollFailed           = "edrconsole.poll.failed"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const metadataKey = "key"

var ErrSubscribeUnsupported = errors.New("event backend does not support subscriptions")

// Publisher is the narrow interface the dispatcher and pollers depend on.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
}

type Options struct {
	Backend       string
	RedisURL      string
	ConsumerGroup string
}

type Envelope struct {
	Topic       string          `json:"topic"`
	Key         string          `json:"key,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

type Bus struct {
	backend    string
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
	logger     *zap.Logger
}

func New(options Options, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(options.Backend))
	adapter := NewLoggerAdapter(logger)
	bus := &Bus{backend: backend, logger: logger}

	switch backend {
	case "", BackendNone:
		bus.backend = BackendNone
		return bus, nil
	case BackendMemory:
		channel := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, adapter)
		bus.publisher = channel
		bus.subscriber = channel
		bus.closers = append(bus.closers, channel.Close)
		return bus, nil
	case BackendRedis:
		redisURL := strings.TrimSpace(options.RedisURL)
		if redisURL == "" {
			return nil, fmt.Errorf("events.redis.url is required for the redis backend")
		}
		redisOptions, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse events redis url: %w", err)
		}
		// Publisher and subscriber each own and close their client.
		publisherClient := redis.NewClient(redisOptions)
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     publisherClient,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, adapter)
		if err != nil {
			_ = publisherClient.Close()
			return nil, fmt.Errorf("create redis stream publisher: %w", err)
		}
		group := strings.TrimSpace(options.ConsumerGroup)
		if group == "" {
			group = "edrconsole"
		}
		subscriberClient := redis.NewClient(redisOptions)
		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        subscriberClient,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: group,
		}, adapter)
		if err != nil {
			_ = publisher.Close()
			_ = subscriberClient.Close()
			return nil, fmt.Errorf("create redis stream subscriber: %w", err)
		}
		bus.publisher = publisher
		bus.subscriber = subscriber
		bus.closers = append(bus.closers, subscriber.Close, publisher.Close)
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported event backend %q (want none|memory|redis)", options.Backend)
	}
}

func (b *Bus) Backend() string {
	if b == nil {
		return BackendNone
	}
	return b.backend
}

// Publish wraps payload in an Envelope. A nil bus or the none backend
// accepts and drops every event.
func (b *Bus) Publish(ctx context.Context, topic string, key string, payload any) error {
	if b == nil || b.publisher == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("event topic is required")
	}
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event payload: %w", topic, err)
	}
	encoded, err := json.Marshal(Envelope{
		Topic:       topic,
		Key:         strings.TrimSpace(key),
		PublishedAt: time.Now().UTC(),
		Payload:     encodedPayload,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event envelope: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), encoded)
	msg.Metadata.Set(metadataKey, strings.TrimSpace(key))
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if b == nil || b.subscriber == nil {
		return nil, ErrSubscribeUnsupported
	}
	return b.subscriber.Subscribe(ctx, strings.TrimSpace(topic))
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func DecodeEnvelope(msg *message.Message) (Envelope, error) {
	var envelope Envelope
	if msg == nil {
		return envelope, fmt.Errorf("nil event message")
	}
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		return envelope, fmt.Errorf("decode event envelope %s: %w", msg.UUID, err)
	}
	return envelope, nil
}

// PublishBestEffort logs publish failures instead of returning them. Events
// are a side channel; they never decide the outcome of a dispatch or poll.
func PublishBestEffort(ctx context.Context, publisher Publisher, logger *zap.Logger, topic string, key string, payload any) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, topic, key, payload); err != nil && logger != nil {
		logger.Warn("event publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}
