package valkey

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const DefaultConnectTimeout = 5 * time.Second

type Config struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Client wraps valkey-go with key prefixing and the few commands the inbox needs.
type Client struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewClient connects and pings. The caller owns Close.
func NewClient(cfg Config) (*Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	return NewFromInner(inner, cfg.KeyPrefix), nil
}

// NewFromInner wraps an already connected client.
func NewFromInner(inner valkeylib.Client, prefix string) *Client {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Client{inner: inner, keyPrefix: prefix}
}

func (c *Client) Inner() valkeylib.Client {
	return c.inner
}

func (c *Client) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}

// Key joins parts with ':' under the configured prefix.
// Key("seen", "inst1", "ABC") -> "azinbox:seen:inst1:ABC"
func (c *Client) Key(parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(c.keyPrefix, ":")
	}
	return c.keyPrefix + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Do(ctx, c.inner.B().Ping().Build()).Error()
}

// SetWithTTL writes key unconditionally with an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := c.inner.B().Set().Key(key).Value(value).Ex(ttl).Build()
	return c.inner.Do(ctx, cmd).Error()
}

// Publish sends payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return c.inner.Do(ctx, c.inner.B().Publish().Channel(channel).Message(payload).Build()).Error()
}

// Subscribe blocks delivering messages on channel to fn until ctx is done.
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	return c.inner.Receive(ctx, c.inner.B().Subscribe().Channel(channel).Build(), func(msg valkeylib.PubSubMessage) {
		fn(msg.Message)
	})
}

func IsNil(err error) bool {
	return valkeylib.IsValkeyNil(err)
}
