package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/imkarma/taskpilot/internal/config"
)

// Webhook posts events as JSON to a URL.
type Webhook struct {
	url     string
	secret  string
	events  map[EventType]bool
	timeout time.Duration
	client  *http.Client
}

// NewWebhook creates a webhook emitter from config.
func NewWebhook(cfg config.Webhook) *Webhook {
	w := &Webhook{
		url:     cfg.URL,
		secret:  cfg.Secret,
		timeout: cfg.Timeout(),
		client:  &http.Client{},
	}
	if len(cfg.Events) > 0 {
		w.events = make(map[EventType]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			w.events[EventType(e)] = true
		}
	}
	return w
}

// Wants reports whether the webhook is subscribed to typ.
func (w *Webhook) Wants(typ EventType) bool {
	return w.events == nil || w.events[typ]
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Emit posts the event. Events the webhook is not subscribed to are skipped.
func (w *Webhook) Emit(ctx context.Context, e Event) error {
	if !w.Wants(e.Type) {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return &DeliveryError{Kind: DeliveryOther, Target: w.url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Kind: DeliveryOther, Target: w.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "taskpilot")
	req.Header.Set("X-Taskpilot-Event", string(e.Type))
	req.Header.Set("X-Taskpilot-Delivery", e.ID)
	if w.secret != "" {
		req.Header.Set("X-Taskpilot-Signature", Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		kind := DeliveryOther
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = DeliveryTimeout
		}
		return &DeliveryError{Kind: kind, Target: w.url, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Kind: DeliveryOther, Target: w.url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}
