package natsink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

// fakeServer speaks just enough of the NATS client protocol for Connect,
// Publish and Flush: INFO on accept, PONG for PING, and PUB capture.
type fakeServer struct {
	ln   net.Listener
	pubs chan published

	mu      sync.Mutex
	conns   []net.Conn
	accepts int
}

type published struct {
	subject string
	data    []byte
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, pubs: make(chan published, 16)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, c)
			s.accepts++
			s.mu.Unlock()
			go s.serve(c)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		s.dropAll()
	})
	return s
}

func (s *fakeServer) url() string { return "nats://" + s.ln.Addr().String() }

func (s *fakeServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// dropAll closes every client connection while keeping the listener open.
func (s *fakeServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *fakeServer) serve(c net.Conn) {
	defer c.Close()
	info := `INFO {"server_id":"fake","version":"2.10.0","host":"127.0.0.1","max_payload":1048576,"proto":1}` + "\r\n"
	if _, err := io.WriteString(c, info); err != nil {
		return
	}
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		op, args, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
		switch strings.ToUpper(op) {
		case "PING":
			if _, err := io.WriteString(c, "PONG\r\n"); err != nil {
				return
			}
		case "PUB":
			f := strings.Fields(args)
			if len(f) < 2 {
				return
			}
			n, err := strconv.Atoi(f[len(f)-1])
			if err != nil {
				return
			}
			buf := make([]byte, n+2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return
			}
			s.pubs <- published{subject: f[0], data: buf[:n]}
		}
	}
}

func (s *fakeServer) next(t *testing.T) published {
	t.Helper()
	select {
	case p := <-s.pubs:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no publish received")
		return published{}
	}
}

func TestNewRequiresSubject(t *testing.T) {
	if _, err := New(Config{URL: "nats://127.0.0.1:1"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestNewConnectFailureIsError(t *testing.T) {
	// Port 1 refuses connections; without RetryOnFailedConnect Connect fails fast.
	if _, err := New(Config{URL: "nats://127.0.0.1:1", Subject: "signups"}, logx.Nop()); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestDeliverPublishesJSONPerKind(t *testing.T) {
	srv := startFakeServer(t)
	p, err := New(Config{URL: srv.url(), Subject: "signups", Flush: true}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()

	at := time.Date(2024, 3, 10, 15, 4, 0, 0, time.UTC)
	msg := transport.Message{Kind: "added", Key: "Bob", CycleID: "c1", Text: "**Bob**", At: at}
	if err := p.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got := srv.next(t)
	if got.subject != "signups.added" {
		t.Fatalf("subject = %q, want signups.added", got.subject)
	}
	var decoded transport.Message
	if err := json.Unmarshal(got.data, &decoded); err != nil {
		t.Fatalf("payload %q: %v", got.data, err)
	}
	if decoded.Kind != "added" || decoded.Key != "Bob" || decoded.CycleID != "c1" || decoded.Text != "**Bob**" || !decoded.At.Equal(at) {
		t.Fatalf("decoded = %+v", decoded)
	}

	if err := p.Deliver(context.Background(), transport.Message{Text: "no kind"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := srv.next(t); got.subject != "signups" {
		t.Fatalf("subject without kind = %q, want signups", got.subject)
	}
}

func TestDeliverAfterServerDropReconnects(t *testing.T) {
	srv := startFakeServer(t)
	// max_reconnects left unset.
	p, err := New(Config{URL: srv.url(), Subject: "signups", ReconnectWait: 20 * time.Millisecond, Flush: true}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()

	srv.dropAll()

	deadline := time.Now().Add(5 * time.Second)
	for srv.acceptCount() < 2 || p.conn.Status() != nats.CONNECTED {
		if time.Now().After(deadline) {
			t.Fatalf("no reconnect: accepts=%d status=%v", srv.acceptCount(), p.conn.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Deliver(context.Background(), transport.Message{Kind: "modified", Text: "x"}); err != nil {
		t.Fatalf("deliver after drop: %v", err)
	}
	if got := srv.next(t); got.subject != "signups.modified" {
		t.Fatalf("subject = %q", got.subject)
	}
}

func TestMaxReconnects(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, nats.DefaultMaxReconnect},
		{5, 5},
		{-1, -1},
		{-7, -1},
	}
	for _, tt := range tests {
		if got := maxReconnects(tt.in); got != tt.want {
			t.Errorf("maxReconnects(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
