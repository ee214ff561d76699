// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

const queueStopTimeout = 30 * time.Second

// mailQueue is the part of Queue the notifier needs.
type mailQueue interface {
	Enqueue(id string, receivers []string, subject, body string) error
	Stop(ctx context.Context) error
}

// Notifier mails operators when a failure becomes critical. It satisfies
// failures.Notifier and never blocks the reporting request.
type Notifier struct {
	queue        mailQueue
	recipients   []string
	baseURL      string
	brandingName string
	log          *zap.SugaredLogger
}

// NewNotifier starts a queue for cfg. A disabled config yields a notifier that
// only logs.
func NewNotifier(cfg Config, log *zap.SugaredLogger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("notifier")
	n := &Notifier{
		recipients:   cfg.Recipients,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		brandingName: cfg.SenderName,
		log:          log,
	}
	if !cfg.Enabled {
		log.Info("Mail notifications disabled")
		return n, nil
	}
	q := NewQueue(NewSender(cfg, log), log, cfg.RetryCount, cfg.RetryBackoffMs, cfg.QueueSize)
	q.Start()
	n.queue = q
	return n, nil
}

func newNotifierWithQueue(q mailQueue, recipients []string, baseURL string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{queue: q, recipients: recipients, baseURL: baseURL, log: log}
}

// NotifyCritical queues a mail for a new or escalated critical failure.
func (n *Notifier) NotifyCritical(_ context.Context, rec control.FailureRecord, escalated bool) {
	log := n.log.With("failureId", rec.ID, "tenant", rec.TenantID, "escalated", escalated)
	if n.queue == nil {
		log.Infow("Critical failure notification skipped, mail disabled")
		return
	}

	body, err := RenderCriticalFailure(CriticalFailureParams{
		Record:       rec,
		Escalated:    escalated,
		URL:          n.failureURL(rec.TenantID),
		BrandingName: n.brandingName,
	})
	if err != nil {
		log.Errorw("Failed to render critical failure mail", "error", err)
		return
	}
	if err := n.queue.Enqueue(rec.ID, n.recipients, CriticalFailureSubject(rec, escalated), body); err != nil {
		log.Warnw("Failed to queue critical failure mail", "error", err)
	}
}

func (n *Notifier) failureURL(tenantID string) string {
	if n.baseURL == "" {
		return ""
	}
	return n.baseURL + "/tenants/" + url.PathEscape(tenantID) + "/failures"
}

// Stop drains the mail queue.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.queue == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queueStopTimeout)
	defer cancel()
	return n.queue.Stop(ctx)
}
