/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// maxBackoffMs caps the retry delay at 30 minutes.
const maxBackoffMs = 30 * 60 * 1000

var (
	ErrQueueFull    = errors.New("mail queue is full")
	ErrQueueStopped = errors.New("mail queue is shutting down")
	ErrNoRecipients = errors.New("cannot enqueue email with no receivers")
)

// QueueItem is one notification and its delivery state.
type QueueItem struct {
	ID        string
	Receivers []string
	Subject   string
	Body      string
	Attempt   int
	CreatedAt time.Time
	NextRetry time.Time
	Succeeded bool
}

func (it *QueueItem) retryable(maxRetries int) bool {
	return !it.Succeeded && it.Attempt < maxRetries
}

// Queue delivers mail on a single background worker. Enqueue never blocks;
// failed sends are retried with exponential backoff.
type Queue struct {
	sender           Sender
	log              *zap.SugaredLogger
	queue            chan *QueueItem
	maxRetries       int
	initialBackoffMs int
	maxQueueSize     int
	retryTick        time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewQueue creates a queue. Zero values select 5 retries, a 10s first backoff
// and room for 1000 mails.
func NewQueue(sender Sender, log *zap.SugaredLogger, maxRetries, initialBackoffMs, maxQueueSize int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if initialBackoffMs <= 0 {
		initialBackoffMs = 10000
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}
	log.Infow("Initializing mail queue", "maxRetries", maxRetries, "initialBackoffMs", initialBackoffMs, "maxQueueSize", maxQueueSize)
	return &Queue{
		sender:           sender,
		log:              log,
		queue:            make(chan *QueueItem, maxQueueSize),
		maxRetries:       maxRetries,
		initialBackoffMs: initialBackoffMs,
		maxQueueSize:     maxQueueSize,
		retryTick:        50 * time.Millisecond,
		stopped:          make(chan struct{}),
		done:             make(chan struct{}),
	}
}

func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.run()
	q.log.Info("Mail queue worker started")
}

func (q *Queue) Enqueue(id string, receivers []string, subject, body string) error {
	host := q.sender.GetHost()
	reject := func(err error) error {
		metrics.MailQueueDropped.WithLabelValues(host).Inc()
		return err
	}
	if len(receivers) == 0 {
		q.log.Errorw("Cannot enqueue email: empty receivers list", "id", id, "subject", subject)
		return reject(ErrNoRecipients)
	}
	select {
	case <-q.stopped:
		return reject(ErrQueueStopped)
	default:
	}

	now := time.Now()
	item := &QueueItem{ID: id, Receivers: receivers, Subject: subject, Body: body, CreatedAt: now, NextRetry: now}
	select {
	case q.queue <- item:
		metrics.MailQueued.WithLabelValues(host).Inc()
		q.log.Debugw("Email queued for sending", "id", id, "receivers", len(receivers))
		return nil
	default:
		q.log.Errorw("Mail queue is full, dropping message", "id", id, "queueSize", q.maxQueueSize)
		return reject(fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.maxQueueSize))
	}
}

// run owns the retry list; nothing else touches it.
func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.retryTick)
	defer ticker.Stop()

	var retries []*QueueItem
	for {
		select {
		case <-q.stopped:
			q.drain(retries)
			return
		case item := <-q.queue:
			if q.attempt(item) {
				retries = append(retries, item)
			}
		case now := <-ticker.C:
			retries = q.retryDue(retries, now)
		}
	}
}

func (q *Queue) retryDue(items []*QueueItem, now time.Time) []*QueueItem {
	keep := items[:0]
	for _, item := range items {
		if !now.Before(item.NextRetry) && !q.attempt(item) {
			continue
		}
		keep = append(keep, item)
	}
	return keep
}

// attempt sends item once and reports whether it should be retried later.
// A panicking sender counts as a failed attempt.
func (q *Queue) attempt(item *QueueItem) (again bool) {
	item.Attempt++
	err := q.send(item)
	if err == nil {
		item.Succeeded = true
		q.log.Infow("Queued email sent", "id", item.ID, "attempt", item.Attempt, "receivers", len(item.Receivers))
		return false
	}
	if item.retryable(q.maxRetries) {
		backoff := time.Duration(q.calculateBackoff(item.Attempt)) * time.Millisecond
		item.NextRetry = time.Now().Add(backoff)
		q.log.Warnw("Email send failed, scheduling retry", "id", item.ID, "attempt", item.Attempt, "error", err, "retryIn", backoff)
		return true
	}
	q.log.Errorw("Email send failed after all retries", "id", item.ID, "attempts", item.Attempt, "error", err, "subject", item.Subject)
	metrics.MailFailed.WithLabelValues(q.sender.GetHost()).Inc()
	return false
}

func (q *Queue) send(item *QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mail sender panicked: %v", r)
		}
	}()
	return q.sender.Send(item.Receivers, item.Subject, item.Body)
}

// drain gives everything still queued or waiting for a retry one last attempt.
func (q *Queue) drain(retries []*QueueItem) {
	for len(q.queue) > 0 {
		retries = append(retries, <-q.queue)
	}
	q.log.Infow("Processing pending mail on shutdown", "count", len(retries))
	for _, item := range retries {
		if item.retryable(q.maxRetries) {
			q.attempt(item)
		}
	}
}

// calculateBackoff doubles initialBackoffMs per attempt up to maxBackoffMs.
func (q *Queue) calculateBackoff(attempt int) int {
	backoff := q.initialBackoffMs
	for i := 1; i < attempt && backoff < maxBackoffMs; i++ {
		backoff *= 2
	}
	return min(backoff, maxBackoffMs)
}

// Stop signals the worker and waits until it has drained or ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping mail queue")
	q.stopOnce.Do(func() { close(q.stopped) })
	if !q.started.Load() {
		return nil
	}
	select {
	case <-q.done:
		q.log.Info("Mail queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warn("Mail queue shutdown timeout, some items may not have been processed")
		return ctx.Err()
	}
}

// Length returns the number of mails waiting for their first attempt.
func (q *Queue) Length() int {
	return len(q.queue)
}
