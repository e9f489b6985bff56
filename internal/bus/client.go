package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kinyvoice/kinyvoice-core/internal/config"
	"github.com/kinyvoice/kinyvoice-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection used to announce persisted transcriptions.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("kinyvoiced"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishTranscriptCreated broadcasts a persisted record. Best effort: the
// caller treats failures as non-fatal.
func (c *Client) PublishTranscriptCreated(evt protocol.TranscriptCreated) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	if err := c.conn.Publish(protocol.SubjectTranscriptCreated, data); err != nil {
		return fmt.Errorf("publish transcript event: %w", err)
	}
	return nil
}
