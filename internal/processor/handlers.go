package processor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
)

// forceTimeout bounds one force archive triggered over NATS.
const forceTimeout = 30 * time.Second

// HandleForceRequest is the NATS handler for scribe.capture.force.
func (p *Processor) HandleForceRequest(subject string, data []byte) {
	var req hermes.ForceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Warn("failed to parse force request", "subject", subject, "error", err)
		return
	}
	id := strings.TrimSpace(req.PendingID)
	if id == "" {
		p.logger.Warn("force request without pending id", "subject", subject)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forceTimeout)
	defer cancel()

	res, err := p.ForceArchive(ctx, id)
	if err != nil {
		p.logger.Error("force archive failed", "pending_id", id, "error", err)
		return
	}
	p.logger.Info("force request handled",
		"pending_id", id,
		"decision", string(res.Decision.Outcome),
		"saved", res.Saved,
	)
}
