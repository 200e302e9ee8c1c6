package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramSendFormatsHTML(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botTOKEN/sendMessage") {
			t.Errorf("path=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "-100123")
	n.apiBase = srv.URL

	err := n.Send(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "Slippage > 0.5%",
		Message: "p1 filled at 105 <ref 100>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["parse_mode"] != "HTML" {
		t.Errorf("parse_mode=%v", got["parse_mode"])
	}
	if got["chat_id"] != "-100123" {
		t.Errorf("chat_id=%v", got["chat_id"])
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "CRITICAL") {
		t.Errorf("text missing level name: %q", text)
	}
	if !strings.Contains(text, "Slippage &gt; 0.5%") || !strings.Contains(text, "&lt;ref 100&gt;") {
		t.Errorf("title/message not HTML-escaped: %q", text)
	}
}

func TestTelegramSendNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "-100123")
	n.apiBase = srv.URL

	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"}); err == nil {
		t.Fatal("non-200 response should surface as an error")
	}
}
