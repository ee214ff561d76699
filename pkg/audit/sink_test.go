// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

func TestWebhookSink_Write(t *testing.T) {
	var got Event
	var eventType, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType = r.Header.Get("X-Audit-Event-Type")
		token = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookSinkConfig{
		Name:    "siem",
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer s3cret"},
	}, zaptest.NewLogger(t))

	entry := control.AuditEntry{ID: "a-1", TargetKind: control.TargetTenantControl, Action: control.ActionClear, TenantID: "acme"}
	require.NoError(t, sink.Write(context.Background(), EventFromEntry(entry)))

	assert.Equal(t, "tenant_control.cleared", eventType)
	assert.Equal(t, "Bearer s3cret", token)
	assert.Equal(t, "a-1", got.ID)
	written, failed := sink.Stats()
	assert.Equal(t, int64(1), written)
	assert.Zero(t, failed)
	assert.Equal(t, "siem", sink.Name())
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookSinkConfig{URL: srv.URL}, zaptest.NewLogger(t))
	err := sink.Write(context.Background(), &Event{ID: "e-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, "webhook", sink.Name())

	_, failed := sink.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestEventFromFailure_KeepsCriticalSeverity(t *testing.T) {
	rec := control.FailureRecord{ID: "f-1", TenantID: "acme", Severity: control.SeverityCritical, Metadata: map[string]string{"k": "v"}}
	ev := EventFromFailure("e-1", EventFailureReported, rec, rec.CreatedAt)

	assert.Equal(t, control.SeverityCritical, ev.Severity)
	rec.Metadata["k"] = "changed"
	assert.Equal(t, "v", ev.Failure.Metadata["k"])

	info := EventFromFailure("e-2", EventFailureResolved, control.FailureRecord{Severity: control.SeverityInfo}, rec.CreatedAt)
	assert.Equal(t, control.SeverityInfo, info.Severity)
}
