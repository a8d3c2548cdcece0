package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRobotsChecker_CanFetch(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits++
		_, _ = w.Write([]byte("User-agent: evalagent\nDisallow: /private\nCrawl-delay: 2\n"))
	}))
	defer server.Close()

	checker := NewRobotsChecker("evalagent/0.1 (+https://example.com)", server.Client())
	ctx := context.Background()

	allowed, delay, err := checker.CanFetch(ctx, server.URL+"/public/page")
	if err != nil {
		t.Fatalf("CanFetch failed: %v", err)
	}
	if !allowed {
		t.Error("Expected /public/page to be allowed")
	}
	if delay != 2*time.Second {
		t.Errorf("Expected 2s crawl delay, got %v", delay)
	}

	if checker.IsAllowed(ctx, server.URL+"/private/doc") {
		t.Error("Expected /private/doc to be disallowed")
	}
	if hits != 1 {
		t.Errorf("Expected robots.txt to be fetched once, got %d", hits)
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewRobotsChecker("evalagent/0.1", server.Client())
	if !checker.IsAllowed(context.Background(), server.URL+"/anything") {
		t.Error("Expected fetch to be allowed without robots.txt")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	if got := NormalizeUserAgent("evalagent/0.1 (+https://x)"); got != "evalagent" {
		t.Errorf("NormalizeUserAgent() = %q", got)
	}
}
