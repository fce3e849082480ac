package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric returns the first sample of name whose labels include all of
// want, or nil.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return m
			}
		}
	}
	return nil
}

func Test_Metrics_EndpointServesCivicMetrics(t *testing.T) {
	t.Parallel()
	s, _ := newRoutedServer(t, "")

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	// One chat so the chat series exist.
	chat, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"q"}`))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	chat.Body.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatOutcomes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := newChatTestServer(&fakeAsker{reply: supremeReply})
	s.metrics = newServerMetrics(reg)

	s.handleChat(httptest.NewRecorder(), postJSON("/api/chat", `{"message":"q"}`))
	s.handleChat(httptest.NewRecorder(), postJSON("/api/chat", `{}`))

	for _, outcome := range []string{"ok", "invalid"} {
		m := findMetric(t, reg, "civic_chat_requests_total", map[string]string{"outcome": outcome})
		if m == nil {
			t.Errorf("civic_chat_requests_total{outcome=%q} not found", outcome)
			continue
		}
		if m.GetCounter().GetValue() != 1 {
			t.Errorf("outcome %q: want 1, got %v", outcome, m.GetCounter().GetValue())
		}
	}
	if m := findMetric(t, reg, "civic_chat_duration_seconds", map[string]string{"outcome": "ok"}); m == nil || m.GetHistogram().GetSampleCount() != 1 {
		t.Error("expected one ok duration observation")
	}
	if m := findMetric(t, reg, "civic_chat_in_flight", nil); m == nil || m.GetGauge().GetValue() != 0 {
		t.Error("in-flight gauge should return to 0")
	}
}

func Test_Metrics_HTTPRequestsByPattern(t *testing.T) {
	t.Parallel()
	s, reg := newRoutedServer(t, "")
	h := s.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if m := findMetric(t, reg, "civic_http_requests_total", map[string]string{
		"method": "GET", labelHandler: "GET /api/health", "code": "200",
	}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("expected one request recorded for GET /api/health")
	}
	if m := findMetric(t, reg, "civic_http_requests_total", map[string]string{
		labelHandler: "unmatched", "code": "404",
	}); m == nil {
		t.Error("expected the 404 to be recorded as unmatched")
	}
}
