package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectDecision carries every capture decision record.
	SubjectDecision = "scribe.capture.decision"
	// SubjectSaved is published after a merge actually changed the store.
	SubjectSaved = "scribe.conversation.saved"
	// SubjectForce is a command subject: force-archive a held capture.
	SubjectForce = "scribe.capture.force"
)

// DecisionEvent is published on SubjectDecision.
type DecisionEvent struct {
	AttemptID    string    `json:"attempt_id"`
	Platform     string    `json:"platform"`
	ExternalID   string    `json:"external_id"`
	SourceURL    string    `json:"source_url"`
	Mode         string    `json:"mode"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason"`
	MessageCount int       `json:"message_count"`
	TurnCount    int       `json:"turn_count"`
	BlacklistHit bool      `json:"blacklist_hit"`
	ForceFlag    bool      `json:"force_flag"`
	Intercepted  bool      `json:"intercepted"`
	PendingID    string    `json:"pending_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SavedEvent is published on SubjectSaved.
type SavedEvent struct {
	AttemptID      string `json:"attempt_id"`
	ConversationID int64  `json:"conversation_id"`
	ExternalID     string `json:"external_id"`
	Platform       string `json:"platform"`
	NewMessages    int    `json:"new_messages"`
	Outcome        string `json:"outcome"`
}

// ForceRequest is received on SubjectForce.
type ForceRequest struct {
	PendingID string `json:"pending_id"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("scribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
