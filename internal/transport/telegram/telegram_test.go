package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

type botAPI struct {
	mu    sync.Mutex
	texts []string
	reply string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	b.texts = append(b.texts, body.Text)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(b.reply))
}

const okReply = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`

func TestDeliverStripsBold(t *testing.T) {
	api := &botAPI{reply: okReply}
	srv := httptest.NewServer(api)
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: -100, APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Deliver(context.Background(), transport.Message{Text: "\n**Alice**\nPlaying Sunday: No → Yes"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(api.texts) != 1 || api.texts[0] != "Alice\nPlaying Sunday: No → Yes" {
		t.Fatalf("texts = %q", api.texts)
	}
}

func TestDeliverRejected(t *testing.T) {
	api := &botAPI{reply: `{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked from the supergroup chat"}`}
	srv := httptest.NewServer(api)
	defer srv.Close()

	s, _ := New(Config{Token: "123:abc", ChatID: -100, APIURL: srv.URL}, logx.Nop())
	err := s.Deliver(context.Background(), transport.Message{Text: "hi"})
	if got := transport.Classify(err); got != transport.OutcomeRejected {
		t.Fatalf("Classify(%v) = %v", err, got)
	}
}

func TestDeliverNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()

	s, _ := New(Config{Token: "123:abc", ChatID: -100, APIURL: "http://" + u.Host}, logx.Nop())
	err := s.Deliver(context.Background(), transport.Message{Text: "hi"})
	if got := transport.Classify(err); got != transport.OutcomeTransportError {
		t.Fatalf("Classify(%v) = %v", err, got)
	}
}

func TestDeliverHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	s, _ := New(Config{Token: "123:abc", ChatID: -100, APIURL: srv.URL, Timeout: 100 * time.Millisecond}, logx.Nop())
	start := time.Now()
	err := s.Deliver(context.Background(), transport.Message{Text: "hi"})
	if got := transport.Classify(err); got != transport.OutcomeTransportError {
		t.Fatalf("Classify(%v) = %v", err, got)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("send took %v; timeout not applied", took)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := New(Config{Token: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected chat error")
	}
}
