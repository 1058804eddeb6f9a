package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/seantiz/cairoprove/internal/notify"
	"github.com/seantiz/cairoprove/internal/stage"
)

type downPublisher struct{ notify.Nop }

func (downPublisher) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks != nil {
		t.Errorf("shallow check ran dependencies: %v", body.Checks)
	}
}

func TestHealthzDeep(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/healthz?deep=true")
	var body healthResponse
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Checks["store"] != "ok" || body.Checks["events"] != "ok" {
		t.Errorf("status = %d body = %+v", resp.StatusCode, body)
	}

	env.srv.publisher = downPublisher{}
	resp = env.get(t, "/healthz?deep=true")
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body.Status != "degraded" || !strings.Contains(body.Checks["events"], "connection refused") {
		t.Errorf("body = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/healthz")

	resp := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)
	for _, name := range []string{
		"cairoprove_http_requests_total",
		"cairoprove_http_request_duration_seconds",
		"cairoprove_http_requests_in_flight",
		"cairoprove_jobs_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestListRunnersAndLayouts(t *testing.T) {
	env := newTestEnv(t, nil)

	var runners []stage.RunnerInfo
	decodeBody(t, env.get(t, "/v1/runners"), &runners)
	if len(runners) != 1 || runners[0].Name != "stub" || runners[0].Capabilities.Isolation != stage.IsolationProcess {
		t.Errorf("runners = %+v", runners)
	}

	var layouts layoutsResponse
	decodeBody(t, env.get(t, "/v1/layouts"), &layouts)
	if len(layouts.Layouts) == 0 || layouts.Layouts[0] != "plain" {
		t.Errorf("layouts = %v", layouts.Layouts)
	}
}
