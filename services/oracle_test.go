package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseOracleOutput(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		score   int
		message string
		wantErr bool
	}{
		{name: "clean json", raw: `{"score": 85, "message": "Acceptable."}`, score: 85, message: "Acceptable."},
		{name: "wrapped in prose", raw: "The Oracle speaks: {\"score\": 12, \"message\": \"Lazy.\"} So it is.", score: 12, message: "Lazy."},
		{name: "score above range clamps", raw: `{"score": 150, "message": "!"}`, score: 100, message: "!"},
		{name: "negative score clamps", raw: `{"score": -5, "message": "?"}`, score: 0, message: "?"},
		{name: "no json", raw: "I refuse to answer.", wantErr: true},
		{name: "missing score", raw: `{"message": "hm"}`, wantErr: true},
		{name: "broken json", raw: `{"score": `, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOracleOutput(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", got)
				}
				if got.Raw != tc.raw {
					t.Fatal("raw output must be preserved for the audit log")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Score != tc.score || got.Message != tc.message {
				t.Fatalf("got score=%d message=%q", got.Score, got.Message)
			}
		})
	}
}

func TestClaudeOracleJudge(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var req struct {
			System string `json:"system"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotSystem = req.System

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"text": `{"score": 91, "message": "Lore-heavy. The lamp approves."}`},
			},
		})
	}))
	defer srv.Close()

	o := NewClaudeOracle("test-key", "")
	o.BaseURL = srv.URL
	o.HTTPClient = srv.Client()

	judgment, err := o.Judge(context.Background(), "a wish", []string{"first winner", "second winner"})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if judgment.Score != 91 {
		t.Fatalf("score = %d", judgment.Score)
	}
	if !strings.Contains(gotSystem, `1. "first winner"`) || !strings.Contains(gotSystem, `2. "second winner"`) {
		t.Fatalf("winning history not injected:\n%s", gotSystem)
	}
	if strings.Contains(gotSystem, "{{WINNING_HISTORY}}") {
		t.Fatal("history placeholder left unreplaced")
	}
}

func TestClaudeOracleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewClaudeOracle("test-key", "")
	o.BaseURL = srv.URL
	o.HTTPClient = srv.Client()

	if _, err := o.Judge(context.Background(), "a wish", nil); err == nil {
		t.Fatal("want error on non-200 status")
	}
}
