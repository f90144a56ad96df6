package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/logger"
)

var errBrokersRequired = errors.New("kafka brokers are required")

// Client manages writers and group readers for the configured brokers.
// Writers hash messages on their key, so events keyed by aggregate id land on
// a stable partition and same-aggregate ordering holds in practice.
type Client struct {
	cfg     config.KafkaConfig
	mtx     sync.Mutex
	writers map[string]*kafkago.Writer
	readers []*kafkago.Reader
}

// NewClient validates the configuration and verifies broker connectivity.
func NewClient(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errBrokersRequired
	}
	for _, broker := range cfg.Brokers {
		if strings.TrimSpace(broker) == "" {
			return nil, errBrokersRequired
		}
	}

	c := &Client{
		cfg:     cfg,
		writers: make(map[string]*kafkago.Writer),
	}

	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("checking kafka connectivity: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "kafka client initialized")
	}

	return c, nil
}

// Writer returns (and caches) a writer for the given topic.
func (c *Client) Writer(topic string) *kafkago.Writer {
	if c == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if w, ok := c.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	c.writers[topic] = w
	return w
}

// Reader returns a consumer-group reader for the given topic. Offsets are
// committed explicitly by the caller, never on fetch.
func (c *Client) Reader(topic string) *kafkago.Reader {
	if c == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.ConsumerGroup,
		Topic:    topic,
		MinBytes: c.cfg.MinBytes,
		MaxBytes: c.cfg.MaxBytes,
	})
	c.mtx.Lock()
	c.readers = append(c.readers, r)
	c.mtx.Unlock()
	return r
}

// Ping dials the first reachable broker.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("kafka client not initialized")
	}
	dialer := &kafkago.Dialer{
		Timeout: time.Duration(c.cfg.DialTimeoutSeconds) * time.Second,
	}
	var lastErr error
	for _, broker := range c.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errBrokersRequired
	}
	return fmt.Errorf("no broker reachable: %w", lastErr)
}

// Close releases all writers and readers.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var firstErr error
	for topic, w := range c.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing writer for %s: %w", topic, err)
		}
	}
	c.writers = make(map[string]*kafkago.Writer)
	for _, r := range c.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.readers = nil
	return firstErr
}
