package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/ports"
)

// Webhook delivers overage notifications as signed HTTP POSTs.
// Publish enqueues the send and returns immediately so the admission
// path never waits on the network; delivery failures are logged and
// not retried.
type Webhook struct {
	url         string
	secret      string
	client      *http.Client
	logger      zerolog.Logger
	wg          sync.WaitGroup
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	closeOnce   sync.Once
}

// NewWebhook creates a webhook bus posting to url. The secret signs
// each payload with HMAC-SHA256.
func NewWebhook(url, secret string, logger zerolog.Logger) *Webhook {
	shutdownCtx, shutdownFn := context.WithCancel(context.Background())
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:      logger,
		shutdownCtx: shutdownCtx,
		shutdownFn:  shutdownFn,
	}
}

// Publish serializes the notification and sends it asynchronously.
func (w *Webhook) Publish(ctx context.Context, overage ports.PlanOverage) error {
	payload, err := json.Marshal(overage)
	if err != nil {
		return fmt.Errorf("serialize overage notification: %w", err)
	}

	w.wg.Add(1)
	sendCtx, cancel := context.WithTimeout(w.shutdownCtx, 30*time.Second)
	go func() {
		defer w.wg.Done()
		defer cancel()
		w.send(sendCtx, overage, payload)
	}()

	return nil
}

func (w *Webhook) send(ctx context.Context, overage ports.PlanOverage, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		w.logger.Error().Err(err).Str("url", w.url).Msg("failed to build overage webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Metergate-Webhook/1.0")
	req.Header.Set("X-Notification-ID", overage.ID)
	req.Header.Set("X-Webhook-Signature", SignPayload(payload, w.secret))

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn().Err(err).
			Str("url", w.url).
			Str("organization_id", overage.OrganizationID).
			Msg("overage webhook request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("organization_id", overage.OrganizationID).
			Msg("overage webhook rejected")
		return
	}

	w.logger.Debug().
		Str("organization_id", overage.OrganizationID).
		Bool("hourly", overage.IsHourly).
		Msg("overage webhook delivered")
}

// Close cancels in-flight sends and waits for their goroutines.
func (w *Webhook) Close() error {
	w.closeOnce.Do(func() {
		w.shutdownFn()
		w.wg.Wait()
	})
	return nil
}

// SignPayload signs a payload with the webhook secret using HMAC-SHA256.
// This is a PURE function.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies that a signature matches the payload.
// This is a PURE function.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Ensure interface compliance.
var _ ports.NotificationBus = (*Webhook)(nil)
