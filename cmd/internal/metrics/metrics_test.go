package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessageAppended("text")
	m.MessageAppended("text")
	m.MessageAppended("audio")
	m.CaptureFinished("completed", 5)
	m.CaptureFinished("cancelled", 3)

	if got := testutil.ToFloat64(m.messagesAppended.WithLabelValues("text")); got != 2 {
		t.Fatalf("text appended=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.captureSessions.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("cancelled=%v want 1", got)
	}
	if got := testutil.CollectAndCount(m.captureDuration); got != 1 {
		t.Fatalf("duration series=%d want 1", got)
	}

	m.WSConnected()
	m.WSConnected()
	m.WSDisconnected()
	m.PlaybackOpened()
	if got := testutil.ToFloat64(m.wsConnections); got != 1 {
		t.Fatalf("ws gauge=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.playbackActive); got != 1 {
		t.Fatalf("playback gauge=%v want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.MessageAppended("text")
	m.CaptureFinished("failed", 0)
	m.PlaybackOpened()
	m.PlaybackClosed()
	m.WSConnected()
	m.WSDisconnected()
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have nil registry")
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.MessageAppended("audio")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `campus_messages_appended_total{kind="audio"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", rr.Body.String())
	}
}
