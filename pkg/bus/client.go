package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/pkg/types"
)

// ErrBrokerUnavailable is returned when the broker cannot be reached
// within the connect retry window. Callers exit with code 3 on it.
var ErrBrokerUnavailable = errors.New("broker unreachable")

// Client wraps the NATS connection with engine-specific functionality
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	config *Config
}

// Config holds broker configuration
type Config struct {
	URL                string
	ClientID           string
	ConnectRetryWindow time.Duration
	FetchBatch         int
	FetchWait          time.Duration
	Streams            []StreamConfig
}

// StreamConfig defines a JetStream stream
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxMsgs  int64
}

// DefaultConfig returns broker configuration with the engine's streams
func DefaultConfig(url, clientID string) *Config {
	return &Config{
		URL:                url,
		ClientID:           clientID,
		ConnectRetryWindow: 30 * time.Second,
		FetchBatch:         64,
		FetchWait:          5 * time.Second,
		Streams: []StreamConfig{
			{Name: StreamPrices, Subjects: []string{"prices.>"}, MaxAge: 24 * time.Hour, MaxMsgs: 1_000_000},
			{Name: StreamFx, Subjects: []string{"fx.>"}, MaxAge: 24 * time.Hour, MaxMsgs: 1_000_000},
			{Name: StreamPositions, Subjects: []string{"positions.>"}, MaxAge: 7 * 24 * time.Hour, MaxMsgs: 1_000_000},
			{Name: StreamValuations, Subjects: []string{"account.*.valuations"}, MaxAge: time.Hour, MaxMsgs: 1_000_000},
			{Name: StreamDLQ, Subjects: []string{"dlq.>"}, MaxAge: 7 * 24 * time.Hour, MaxMsgs: 100_000},
		},
	}
}

// NewClient connects to the broker and ensures the engine's streams
// exist. Connection failures are retried until the retry window
// expires, then surfaced as ErrBrokerUnavailable.
func NewClient(config *Config) (*Client, error) {
	logger := logrus.WithField("component", "bus")

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Errorf("Broker disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Broker reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Errorf("Broker error: %v", err)
		}),
	}

	conn, err := connectWithRetry(config, logger, opts)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		conn:   conn,
		js:     js,
		logger: logger,
		config: config,
	}

	if err := client.initializeStreams(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return client, nil
}

func connectWithRetry(config *Config, logger *logrus.Entry, opts []nats.Option) (*nats.Conn, error) {
	window := config.ConnectRetryWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	deadline := time.Now().Add(window)

	for {
		conn, err := nats.Connect(config.URL, opts...)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w at %s after %s: %v", ErrBrokerUnavailable, config.URL, window, err)
		}
		logger.Warnf("Broker connect failed, retrying: %v", err)
		time.Sleep(2 * time.Second)
	}
}

// initializeStreams creates or updates the engine's streams
func (c *Client) initializeStreams() error {
	for _, streamConfig := range c.config.Streams {
		config := &nats.StreamConfig{
			Name:      streamConfig.Name,
			Subjects:  streamConfig.Subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    streamConfig.MaxAge,
			MaxMsgs:   streamConfig.MaxMsgs,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}

		_, err := c.js.StreamInfo(streamConfig.Name)
		if err == nil {
			if _, err = c.js.UpdateStream(config); err != nil {
				return fmt.Errorf("failed to update stream %s: %w", streamConfig.Name, err)
			}
			c.logger.Infof("Updated stream: %s", streamConfig.Name)
		} else {
			if _, err = c.js.AddStream(config); err != nil {
				return fmt.Errorf("failed to create stream %s: %w", streamConfig.Name, err)
			}
			c.logger.Infof("Created stream: %s", streamConfig.Name)
		}
	}

	return nil
}

// Connected reports whether the broker connection is up
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the broker connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish marshals v to JSON and publishes it
func (c *Client) Publish(subject string, v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.PublishRaw(subject, msg)
}

// PublishFramed publishes v as a length-prefixed JSON record, the
// framing every inbound topic carries
func (c *Client) PublishFramed(subject string, v interface{}) error {
	frame, err := types.EncodeFrame(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return c.PublishRaw(subject, frame)
}

// PublishRaw publishes bytes as-is
func (c *Client) PublishRaw(subject string, data []byte) error {
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.logger.Debugf("Published to %s", subject)
	return nil
}

// PullSubscribe creates a durable pull consumer. Acks are cumulative:
// acking the last message of a batch acknowledges the whole batch.
func (c *Client) PullSubscribe(subject, durable string) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(subject, durable,
		nats.AckAll(),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Infof("Subscribed to %s as %s", subject, durable)
	return sub, nil
}

// Fetch pulls the next batch for a subscription. An empty batch is
// returned when the wait expires with nothing pending.
func (c *Client) Fetch(sub *nats.Subscription) ([]*nats.Msg, error) {
	batch := c.config.FetchBatch
	if batch <= 0 {
		batch = 64
	}
	wait := c.config.FetchWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	msgs, err := sub.Fetch(batch, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch batch: %w", err)
	}
	return msgs, nil
}

// ConsumerLag returns the number of undelivered messages for a durable
func (c *Client) ConsumerLag(stream, durable string) (int64, error) {
	info, err := c.js.ConsumerInfo(stream, durable)
	if err != nil {
		return 0, fmt.Errorf("failed to read consumer info for %s/%s: %w", stream, durable, err)
	}
	return int64(info.NumPending), nil
}
