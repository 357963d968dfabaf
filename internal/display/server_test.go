package display

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/tunetrack/internal/observe"
	"github.com/MrWong99/tunetrack/pkg/pitch"
	"github.com/MrWong99/tunetrack/pkg/queue"
)

func newSource(t *testing.T) *queue.Bounded[pitch.Estimate] {
	t.Helper()
	q, err := queue.New[pitch.Estimate](5, queue.DropNewest)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	return q
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				var total int64
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					total += dp.Value
				}
				return total
			}
		}
	}
	return 0
}

// startServer runs s behind an httptest server and returns its ws:// URL and
// a cancel func that stops Run.
func startServer(t *testing.T, s *Server) (string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", s.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg map[string]any
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("wsjson.Read: %v", err)
	}
	return msg
}

func TestServer_BroadcastsToAllClients(t *testing.T) {
	src := newSource(t)
	m, reader := newTestMetrics(t)
	s := New(src, WithPushInterval(5*time.Millisecond), WithMetrics(m))
	url, _ := startServer(t, s)

	a, b := dial(t, url), dial(t, url)
	waitClients(t, s, 2)
	if got := sum(t, reader, "tunetrack.display.clients"); got != 2 {
		t.Errorf("display.clients = %d, want 2", got)
	}

	src.TryPut(pitch.Estimate{Frequency: 110, Level: 0.25})
	src.TryPut(pitch.Estimate{Frequency: 220, Level: 0.5})

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		first, second := read(t, conn), read(t, conn)
		if first["hz"] != 110.0 || first["rms"] != 0.25 {
			t.Errorf("client %s first message = %v", name, first)
		}
		if second["hz"] != 220.0 {
			t.Errorf("client %s second message = %v, want hz 220", name, second)
		}
	}
}

func TestServer_DrainsWithoutClients(t *testing.T) {
	src := newSource(t)
	s := New(src, WithPushInterval(time.Millisecond))
	startServer(t, s)

	src.TryPut(pitch.Estimate{Frequency: 330})
	deadline := time.Now().Add(time.Second)
	for src.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("source was not drained with no clients connected")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := New(newSource(t), WithMetrics(m))
	url, _ := startServer(t, s)

	conn := dial(t, url)
	waitClients(t, s, 1)
	conn.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, s, 0)

	if got := sum(t, reader, "tunetrack.display.clients"); got != 0 {
		t.Errorf("display.clients = %d after disconnect, want 0", got)
	}
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	s := New(newSource(t))
	url, stop := startServer(t, s)

	conn := dial(t, url)
	waitClients(t, s, 1)
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want StatusGoingAway", status, err)
	}

	// Late connections are refused once Run has returned.
	late, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial after shutdown: %v", err)
	}
	defer late.CloseNow()
	_, _, err = late.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("late connection err = %v, want StatusGoingAway", err)
	}
}

func TestBroadcast_DropsForFullClient(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := New(newSource(t), WithClientBuffer(2), WithMetrics(m))
	ctx := context.Background()

	slow := &client{id: "slow", send: make(chan pitch.Estimate, 2)}
	fast := &client{id: "fast", send: make(chan pitch.Estimate, 8)}
	s.add(ctx, slow)
	s.add(ctx, fast)

	for i := range 5 {
		s.broadcast(ctx, pitch.Estimate{Frequency: float64(i)})
	}

	if len(slow.send) != 2 || len(fast.send) != 5 {
		t.Errorf("queued slow=%d fast=%d, want 2 and 5", len(slow.send), len(fast.send))
	}
	if got := sum(t, reader, "tunetrack.display.messages_dropped"); got != 3 {
		t.Errorf("messages_dropped = %d, want 3", got)
	}
	if first := <-slow.send; first.Frequency != 0 {
		t.Errorf("slow client kept %v first, want the oldest estimate", first.Frequency)
	}
}

func TestLog_DrainsUntilCancelled(t *testing.T) {
	src := newSource(t)
	src.TryPut(pitch.Estimate{Frequency: 82.4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Log(ctx, src, time.Millisecond) }()

	deadline := time.Now().Add(time.Second)
	for src.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Log returned %v", err)
	}
	if src.Len() != 0 {
		t.Error("Log did not drain the source")
	}
}
