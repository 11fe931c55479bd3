package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/scribesync/hookd/internal/signing"
)

func TestSendHeadersAndSignature(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewSender()
	result := sender.Send(context.Background(), SendRequest{
		URL:            server.URL,
		Secret:         "whsec_test",
		EventType:      "note.created",
		EventData:      json.RawMessage(`{"note_id":"note_1"}`),
		UserID:         "usr_1",
		DeliveryID:     "dlv_1",
		TimeoutSeconds: 5,
	})

	if !result.OK || result.StatusCode != http.StatusOK {
		t.Fatalf("expected OK 200, got ok=%v status=%d err=%q", result.OK, result.StatusCode, result.Error)
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if ua := gotHeaders.Get("User-Agent"); ua != "ScribeSync/1.0 Webhook-Dispatcher" {
		t.Errorf("User-Agent = %q", ua)
	}
	if evt := gotHeaders.Get("X-SS-Event"); evt != "note.created" {
		t.Errorf("X-SS-Event = %q", evt)
	}
	if id := gotHeaders.Get("X-SS-Delivery-Id"); id != "dlv_1" {
		t.Errorf("X-SS-Delivery-Id = %q", id)
	}

	tsHeader := gotHeaders.Get("X-SS-Timestamp")
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		t.Fatalf("X-SS-Timestamp %q is not an integer", tsHeader)
	}
	if delta := time.Now().Unix() - ts; delta < 0 || delta > 30 {
		t.Errorf("timestamp %d too far from now", ts)
	}

	sig := gotHeaders.Get("X-SS-Signature")
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Fatalf("malformed signature header %q", sig)
	}
	// Receiver contract: recompute the HMAC over "{ts}.{raw body}".
	if !signing.Verify("whsec_test", gotBody, ts, sig) {
		t.Fatal("signature did not verify against the raw request body")
	}

	var envelope Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if envelope.Event != "note.created" || envelope.UserID != "usr_1" {
		t.Errorf("unexpected envelope: %+v", envelope)
	}
	if _, err := time.Parse(time.RFC3339, envelope.Timestamp); err != nil {
		t.Errorf("envelope timestamp %q is not RFC3339", envelope.Timestamp)
	}
}

func TestSendNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	result := NewSender().Send(context.Background(), SendRequest{
		URL:            server.URL,
		Secret:         "whsec_test",
		EventType:      "note.deleted",
		EventData:      json.RawMessage(`{}`),
		DeliveryID:     "dlv_2",
		TimeoutSeconds: 5,
	})

	if result.OK {
		t.Fatal("expected failure for HTTP 500")
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d", result.StatusCode)
	}
	if result.Body != "boom" {
		t.Fatalf("Body = %q", result.Body)
	}
	if result.Error != "" {
		t.Fatalf("expected no transport error, got %q", result.Error)
	}
}

func TestSendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer server.Close()

	result := NewSender().Send(context.Background(), SendRequest{
		URL:            server.URL,
		Secret:         "whsec_test",
		EventType:      "note.created",
		EventData:      json.RawMessage(`{}`),
		DeliveryID:     "dlv_3",
		TimeoutSeconds: 1,
	})

	if result.Error != "timeout" {
		t.Fatalf("expected timeout error, got %q (status %d)", result.Error, result.StatusCode)
	}
}

func TestSendTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	result := NewSender().Send(context.Background(), SendRequest{
		URL:            server.URL,
		Secret:         "whsec_test",
		EventType:      "note.created",
		EventData:      json.RawMessage(`{}`),
		DeliveryID:     "dlv_4",
		TimeoutSeconds: 5,
	})

	if result.Error == "" {
		t.Fatal("expected a transport error")
	}
	if result.StatusCode != 0 {
		t.Fatalf("expected no HTTP status, got %d", result.StatusCode)
	}
}

func TestSendTruncatesResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer server.Close()

	result := NewSender().Send(context.Background(), SendRequest{
		URL:            server.URL,
		Secret:         "whsec_test",
		EventType:      "note.created",
		EventData:      json.RawMessage(`{}`),
		DeliveryID:     "dlv_5",
		TimeoutSeconds: 5,
	})

	if len(result.Body) != maxBodyExcerpt {
		t.Fatalf("expected body truncated to %d chars, got %d", maxBodyExcerpt, len(result.Body))
	}
}
