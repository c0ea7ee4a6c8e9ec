package handler

import (
	"net/http"
	"testing"
	"time"
)

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("sqlite", time.Now().Add(-time.Minute), discardLogger())
	rec, body := do(t, http.HandlerFunc(h.HealthCheck), "/api/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["snapshot_store"] != "sqlite" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
	if up, _ := body["uptime_seconds"].(float64); up < 59 {
		t.Errorf("uptime_seconds = %v", body["uptime_seconds"])
	}
}
