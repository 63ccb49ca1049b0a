package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

// Requires a Redis instance; set TEST_REDIS_URL (e.g. redis://localhost:6379/15).
// Skip with: go test -short
func newTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis integration test")
	}
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	c, err := New(ctx, url)
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	c.prefix = "ragchat:test:gatekeeper"

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	t.Cleanup(func() {
		c.Clear(context.Background())
		c.Close()
	})
	return c
}

func TestRecordAdmission(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

	events := []string{"admitted", "admitted", "rate_limited", "unauthenticated"}
	for _, outcome := range events {
		if err := c.RecordAdmission(ctx, outcome, "POST", "/api/v1/sessions", at); err != nil {
			t.Fatalf("RecordAdmission: %v", err)
		}
	}

	totals, err := c.AdmissionTotals(ctx)
	if err != nil {
		t.Fatalf("AdmissionTotals: %v", err)
	}
	if totals["admitted"] != 2 || totals["rate_limited"] != 1 || totals["unauthenticated"] != 1 {
		t.Errorf("totals = %v", totals)
	}

	minute, err := c.client.HGet(ctx, c.prefix+":minute:202401011230", "admitted").Int()
	if err != nil {
		t.Fatalf("HGet minute bucket: %v", err)
	}
	if minute != 2 {
		t.Errorf("minute bucket admitted = %d, want 2", minute)
	}

	ttl, err := c.client.TTL(ctx, c.prefix+":minute:202401011230").Result()
	if err != nil || ttl <= 0 {
		t.Errorf("minute bucket TTL = %v (err %v), want positive", ttl, err)
	}

	route, _ := c.client.HGet(ctx, c.prefix+":route", "POST /api/v1/sessions:rate_limited").Int()
	if route != 1 {
		t.Errorf("route counter = %d, want 1", route)
	}
}

func TestAdmissionTotals_Empty(t *testing.T) {
	c := newTestClient(t)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	totals, err := c.AdmissionTotals(context.Background())
	if err != nil {
		t.Fatalf("AdmissionTotals: %v", err)
	}
	if len(totals) != 0 {
		t.Errorf("totals = %v, want empty", totals)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(context.Background(), "not-a-url"); err == nil {
		t.Error("New() expected error for invalid URL")
	}
}
