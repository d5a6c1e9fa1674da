package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/stockline-erp/stockline/internal/transfers"
)

// Hooks forwards committed transfer events to an external webhook endpoint.
// A zero-value or endpoint-less Hooks is a no-op, so callers can wire it
// unconditionally.
type Hooks struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHooks constructs the webhook dispatcher. An empty endpoint disables it.
func NewHooks(endpoint string, logger *slog.Logger) *Hooks {
	return &Hooks{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// HandleTransferEvent delivers the event payload. Errors are returned for the
// caller to log; they never affect the committed transfer.
func (h *Hooks) HandleTransferEvent(ctx context.Context, event transfers.Event) error {
	if h == nil || h.endpoint == "" {
		return nil
	}
	body, err := json.Marshal(mapEvent(event))
	if err != nil {
		return fmt.Errorf("integration: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("integration: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("integration: deliver event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("integration: webhook returned %d", resp.StatusCode)
	}
	if h.logger != nil {
		h.logger.Debug("delivered transfer event",
			slog.String("type", string(event.Type)),
			slog.Int64("transfer_id", event.TransferID),
		)
	}
	return nil
}
