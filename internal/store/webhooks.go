package store

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
)

// CreateWebhook inserts a new webhook registration.
func (s *Store) CreateWebhook(w *model.Webhook) error {
	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.db.Exec(`INSERT INTO webhooks
		(id, name, url, secret, enabled, event_types, retry_max, timeout_ms, created_by, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.URL, w.Secret, w.Enabled, joinTags(w.EventTypes), w.RetryMax,
		w.Timeout.Milliseconds(), w.CreatedBy, w.CreatedAt, w.UpdatedAt)
	return trace.Wrap(err)
}

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	var w model.Webhook
	var eventTypes string
	var timeoutMs int64
	var lastTriggered *time.Time
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.Enabled, &eventTypes,
		&w.RetryMax, &timeoutMs, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt, &lastTriggered); err != nil {
		return nil, err
	}
	w.EventTypes = splitTags(eventTypes)
	w.Timeout = time.Duration(timeoutMs) * time.Millisecond
	w.LastTriggeredAt = lastTriggered
	return &w, nil
}

const webhookColumns = `id, name, url, secret, enabled, event_types, retry_max, timeout_ms,
	created_by, created_at, updated_at, last_triggered_at`

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(id string) (*model.Webhook, error) {
	row := s.db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if isNoRows(err) {
		return nil, trace.NotFound("webhook %q not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return w, nil
}

// ListWebhooks returns all registered webhooks (no pagination: the
// expected cardinality is small, per spec.md §4.8's "registered
// endpoints" framing).
func (s *Store) ListWebhooks() ([]*model.Webhook, error) {
	rows, err := s.db.Query(`SELECT ` + webhookColumns + ` FROM webhooks ORDER BY created_at`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, w)
	}
	return out, trace.Wrap(rows.Err())
}

// ListEnabledWebhooks is the hot path used by the event dispatcher.
func (s *Store) ListEnabledWebhooks() ([]*model.Webhook, error) {
	rows, err := s.db.Query(`SELECT ` + webhookColumns + ` FROM webhooks WHERE enabled = 1`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, w)
	}
	return out, trace.Wrap(rows.Err())
}

// UpdateWebhook rewrites a webhook's mutable fields.
func (s *Store) UpdateWebhook(w *model.Webhook) error {
	w.UpdatedAt = time.Now()
	res, err := s.db.Exec(`UPDATE webhooks SET name=?, url=?, secret=?, enabled=?, event_types=?,
		retry_max=?, timeout_ms=?, updated_at=? WHERE id=?`,
		w.Name, w.URL, w.Secret, w.Enabled, joinTags(w.EventTypes), w.RetryMax,
		w.Timeout.Milliseconds(), w.UpdatedAt, w.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "webhook", w.ID)
}

// DeleteWebhook removes a webhook registration.
func (s *Store) DeleteWebhook(id string) error {
	res, err := s.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return checkAffected(res, "webhook", id)
}

// MarkWebhookTriggered stamps last_triggered_at to now.
func (s *Store) MarkWebhookTriggered(id string) error {
	_, err := s.db.Exec(`UPDATE webhooks SET last_triggered_at = ? WHERE id = ?`, time.Now(), id)
	return trace.Wrap(err)
}

// CreateWebhookDelivery appends one delivery attempt record.
func (s *Store) CreateWebhookDelivery(d *model.WebhookDelivery) error {
	d.DeliveredAt = time.Now()
	_, err := s.db.Exec(`INSERT INTO webhook_deliveries
		(id, webhook_ref, event_id, event_type, status, status_code, response_body, error, attempt, delivered_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.WebhookRef, d.EventID, d.EventType, d.Status, d.StatusCode,
		d.ResponseBody, d.Error, d.Attempt, d.DeliveredAt)
	return trace.Wrap(err)
}

// ListWebhookDeliveries returns a page of delivery attempts for a
// webhook, newest first.
func (s *Store) ListWebhookDeliveries(webhookID string, p Page) ([]*model.WebhookDelivery, error) {
	p = NormalizePage(p)
	rows, err := s.db.Query(`SELECT id, webhook_ref, event_id, event_type, status, status_code,
		response_body, error, attempt, delivered_at FROM webhook_deliveries
		WHERE webhook_ref = ? ORDER BY delivered_at DESC LIMIT ? OFFSET ?`, webhookID, p.Limit, p.Offset)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []*model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		if err := rows.Scan(&d.ID, &d.WebhookRef, &d.EventID, &d.EventType, &d.Status,
			&d.StatusCode, &d.ResponseBody, &d.Error, &d.Attempt, &d.DeliveredAt); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, &d)
	}
	return out, trace.Wrap(rows.Err())
}
