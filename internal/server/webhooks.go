package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"shotline/internal/config"
	"shotline/internal/domain"
	"shotline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *zap.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookDispatcher tails the audit ledger and posts new entries to the
// configured endpoints. Each endpoint keeps its own cursor, starting at the
// ledger tail, and delivery is at least once: a failed POST is retried on the
// next tick before the cursor moves.
func StartWebhookDispatcher(e engine.Engine, logger *zap.Logger) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	entries, err := d.engine.Repo.AuditAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		d.logger.Warn("webhook: fetch audit entries failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	filter := newOutcomeFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(string(entry.Outcome)) {
			d.setCursor(idx, entry.Seq)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			d.logger.Warn("webhook: deliver failed", zap.String("url", hook.URL), zap.Error(err))
			return
		}
		d.setCursor(idx, entry.Seq)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestAuditSeq(context.Background(), "")
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", zap.Error(err))
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	Seq          int64   `json:"seq"`
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	ActorID      string  `json:"actor_id"`
	ActorRole    string  `json:"actor_role"`
	FromStatus   string  `json:"from_status"`
	ToStatus     string  `json:"to_status"`
	Outcome      string  `json:"outcome"`
	Reason       *string `json:"reason,omitempty"`
	RejectReason *string `json:"reject_reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func (d *webhookDispatcher) postEntry(ctx context.Context, hook config.WebhookConfig, entry domain.AuditEntry) error {
	body := webhookEvent{
		Seq:          entry.Seq,
		ID:           entry.ID,
		ProjectID:    entry.ProjectID,
		ActorID:      entry.ActorID,
		ActorRole:    string(entry.ActorRole),
		FromStatus:   string(entry.FromStatus),
		ToStatus:     string(entry.ToStatus),
		Outcome:      string(entry.Outcome),
		Reason:       entry.Reason,
		RejectReason: entry.RejectReason,
		CreatedAt:    entry.CreatedAt,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shotline-Event", string(entry.Outcome))
	req.Header.Set("X-Shotline-Delivery", entry.ID)
	req.Header.Set("X-Shotline-Project", entry.ProjectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Shotline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type outcomeFilter struct {
	all bool
	set map[string]struct{}
}

func newOutcomeFilter(events []string) outcomeFilter {
	if len(events) == 0 {
		return outcomeFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return outcomeFilter{all: true}
	}
	return outcomeFilter{set: set}
}

func (f outcomeFilter) match(outcome string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[outcome]
	return ok
}
