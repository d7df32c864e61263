// Package eventbus is the kafka adapter used by every service. It keeps
// the broker wiring in one place: hash-partitioned writers keyed by order
// id, group readers per consumer, and a handler loop that survives poison
// messages.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/logging"
)

// ErrDisabled is returned when no brokers are configured.
var ErrDisabled = errors.New("event bus disabled")

// Client holds broker addresses and hands out writers and readers.
type Client struct {
	Brokers []string
}

// NewClient parses a comma-separated broker list. An empty list yields a
// disabled client; callers check Enabled before wiring consumers.
func NewClient(brokersCSV string) *Client {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// KafkaPublisher writes pre-encoded payloads to their topics, keyed by
// order id. Writers are created lazily per topic and reused; Send is safe
// for concurrent use.
type KafkaPublisher struct {
	client *Client

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewPublisher(client *Client) *KafkaPublisher {
	return &KafkaPublisher{client: client, writers: make(map[string]*kafka.Writer)}
}

// Send writes a pre-encoded payload to an explicit topic. Used by the
// outbox dispatcher, which persists topic and payload at write time.
func (p *KafkaPublisher) Send(ctx context.Context, topic, key string, value []byte) error {
	if !p.client.Enabled() {
		return ErrDisabled
	}
	return p.writer(topic).WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()})
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.client.NewWriter(topic)
		p.writers[topic] = w
	}
	return w
}

// Close closes all writers.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.writers {
		_ = w.Close()
	}
}

// Handler processes one decoded event. Returning an error only logs it;
// one poison event must not block the partition.
type Handler func(ctx context.Context, evt events.Event) error

// Consume reads a topic until ctx is done. Read errors back off and
// retry; decode and handler errors are logged and the message skipped.
func Consume(ctx context.Context, client *Client, topic, groupID string, log *logging.Logger, handle Handler) {
	reader := client.NewReader(topic, groupID)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("event read failed", logging.Fields{Step: "consume_" + topic, Err: err})
			time.Sleep(2 * time.Second)
			continue
		}
		var evt events.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Error("event decode failed", logging.Fields{Step: "consume_" + topic, Err: err})
			continue
		}
		if evt.EventID == "" {
			log.Warn("event without id dropped", logging.Fields{Step: "consume_" + topic})
			continue
		}
		start := time.Now()
		if err := handle(ctx, evt); err != nil {
			log.Error("event handler failed", logging.Fields{
				Step:       "consume_" + topic,
				EventID:    evt.EventID,
				OrderID:    evt.OrderID,
				DurationMS: logging.Since(start),
				Err:        err,
			})
			continue
		}
		log.Debug("event handled", logging.Fields{
			Step:       "consume_" + topic,
			EventID:    evt.EventID,
			OrderID:    evt.OrderID,
			DurationMS: logging.Since(start),
		})
	}
}
