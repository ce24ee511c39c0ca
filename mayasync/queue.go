package mayasync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/config"
	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"cloud.google.com/go/pubsub"
)

// JobMessage is the wire payload for one operation request.
type JobMessage struct {
	JobId        string          `json:"job_id"`
	SellerId     string          `json:"seller_id"`
	ConnectionId uint            `json:"connection_id"`
	Type         models.JobType  `json:"type"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// Queue delivers operation requests to workers at least once. The
// orchestrator is the only caller; operation handlers never enqueue
// directly.
type Queue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
}

// DeliveryPolicy bounds redelivery: exponential backoff between attempts,
// dead-lettered after MaxAttempts.
type DeliveryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	cfg := DeliveryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 10 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
	if v := os.Getenv("SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("SYNC_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BaseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SYNC_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// PubSubQueue adapts Cloud Pub/Sub as the broker. Backoff and dead-letter
// routing live in the subscription config; attempt exhaustion is enforced
// worker-side against DeliveryPolicy.MaxAttempts.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubQueue binds the queue to its topic, creating topic and
// subscription on first use when SYNC_CREATE_TOPIC=true (dev/emulator).
func NewPubSubQueue(ctx context.Context, client *pubsub.Client, topicName string, policy DeliveryPolicy) (*PubSubQueue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topicName == "" {
		topicName = "maya-sync"
	}

	topic := client.Topic(topicName)
	if envBoolDefault("SYNC_CREATE_TOPIC", false) {
		var err error
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return nil, err
		}
		if err := ensureSubscription(ctx, client, topic, policy); err != nil {
			return nil, err
		}
	}
	return &PubSubQueue{client: client, topic: topic}, nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, topic *pubsub.Topic, policy DeliveryPolicy) error {
	subName := strings.TrimSpace(os.Getenv("SYNC_SUBSCRIPTION"))
	if subName == "" {
		subName = topic.ID() + "-worker"
	}
	sub := client.Subscription(subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	cfg := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: policy.BaseBackoff,
			MaximumBackoff: policy.MaxBackoff,
		},
	}
	if dead := strings.TrimSpace(os.Getenv("SYNC_DEAD_TOPIC")); dead != "" {
		deadTopic, derr := config.CreateTopicIfNotExists(client, dead)
		if derr != nil {
			return derr
		}
		cfg.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     deadTopic.String(),
			MaxDeliveryAttempts: policy.MaxAttempts,
		}
	}
	_, err = client.CreateSubscription(ctx, subName, cfg)
	return err
}

func (q *PubSubQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PushEnvelope is the JSON body Pub/Sub POSTs to a push endpoint.
// DeliveryAttempt is populated when the subscription has a dead-letter
// policy; it is the broker's authoritative attempt counter.
type PushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// DecodePushEnvelope extracts the job message and the delivery attempt
// (0 when the broker did not report one).
func DecodePushEnvelope(body []byte) (JobMessage, int, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return JobMessage{}, 0, err
	}
	var msg JobMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
		return JobMessage{}, 0, err
	}
	return msg, envelope.DeliveryAttempt, nil
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
