// Package pending retains captures the decision gate held, so a later force
// archive can commit them without re-reading the page.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/capture"
	"github.com/MikeSquared-Agency/scribe/internal/chat"
)

var ErrNotFound = errors.New("pending capture not found")

// DefaultTTL bounds how long a held capture stays retrievable.
const DefaultTTL = 24 * time.Hour

// namespace for deterministic IDs of captures that have an external id.
var namespace = uuid.MustParse("6f1c0b6e-3f5a-4c1e-9a57-2d8a4b1f0c3e")

// Capture is one held payload plus the decision that held it.
type Capture struct {
	ID       string           `json:"id"`
	Draft    chat.Draft       `json:"draft"`
	Messages []chat.Message   `json:"messages"`
	Decision capture.Decision `json:"decision"`
	HeldAt   time.Time        `json:"heldAt"`
}

// Store keeps held captures until they are force-archived or expire.
type Store interface {
	// Put stores c and returns its id. A capture of an already held
	// conversation replaces the earlier one.
	Put(ctx context.Context, c Capture) (string, error)
	Get(ctx context.Context, id string) (Capture, error)
	Delete(ctx context.Context, id string) error
	// List returns live captures, most recently held first.
	List(ctx context.Context) ([]Capture, error)
	// Bytes is the encoded size of everything retained.
	Bytes(ctx context.Context) (int64, error)
}

// IDFor returns the id c will be stored under.
func IDFor(c Capture) string {
	if c.ID != "" {
		return c.ID
	}
	if c.Draft.ExternalID != "" {
		return uuid.NewSHA1(namespace, []byte(string(c.Draft.Platform)+"/"+c.Draft.ExternalID)).String()
	}
	return uuid.New().String()
}

func encode(c Capture) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode pending capture: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (Capture, error) {
	var c Capture
	if err := json.Unmarshal(raw, &c); err != nil {
		return Capture{}, fmt.Errorf("decode pending capture: %w", err)
	}
	return c, nil
}

func sortNewestFirst(cs []Capture) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].HeldAt.After(cs[j].HeldAt)
	})
}
