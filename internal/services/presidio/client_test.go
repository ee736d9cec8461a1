package presidio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"counsel/internal/privacy"
)

func TestDetectSendsRequestAndMapsSpans(t *testing.T) {
	var got analyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"entity_type": "PERSON", "start": 8, "end": 16, "score": 0.85},
			{"entity_type": "EMAIL_ADDRESS", "start": 20, "end": 36, "score": 1.0},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/"})
	spans, err := client.Detect(context.Background(), "Between Jane Roe at jane@example.com")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got.Language != "en" || len(got.Entities) != len(DefaultEntities) {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(spans) != 2 || spans[0].Entity != "PERSON" || spans[0].Start != 8 || spans[0].End != 16 {
		t.Fatalf("unexpected spans %+v", spans)
	}

	result, err := privacy.NewAnonymizer(client).Anonymize(context.Background(), "Between Jane Roe at jane@example.com")
	if err != nil {
		t.Fatalf("Anonymize: %v", err)
	}
	if result.Text != "Between <PERSON_1> at <EMAIL_ADDRESS_1>" {
		t.Fatalf("unexpected anonymized text %q", result.Text)
	}
}

func TestDetectHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).Detect(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "http 500") {
		t.Fatalf("expected http 500 error, got %v", err)
	}
}

func TestDetectEmptyTextSkipsCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer server.Close()

	spans, err := NewClient(Config{BaseURL: server.URL}).Detect(context.Background(), "  ")
	if err != nil || spans != nil || called {
		t.Fatalf("expected no call for blank text, got %v %v %v", spans, err, called)
	}
	if _, err := NewClient(Config{}).Detect(context.Background(), "x"); err == nil {
		t.Fatal("expected error without base url")
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("Presidio Analyzer service is up"))
	}))
	defer server.Close()

	if err := NewClient(Config{BaseURL: server.URL}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
