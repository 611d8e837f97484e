package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mjpeghub/configs"
	"mjpeghub/internal/stream"
)

func newTestServer(t *testing.T, mutate func(*configs.Config)) *Server {
	t.Helper()

	cfg := configs.NewDefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Stream.RecvRetryWait = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(&cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("failed to bind: %v", err)
	}
	go func() {
		if err := s.Serve(); err != nil {
			t.Errorf("Serve returned: %v", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// dialViewer connects a raw socket and consumes the handshake, which also
// guarantees the server has attached the viewer.
func dialViewer(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	br := bufio.NewReader(conn)
	got := make([]byte, len(stream.Preamble))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("reading preamble: %v", err)
	}
	if string(got) != stream.Preamble {
		t.Fatalf("preamble = %q, want %q", got, stream.Preamble)
	}
	return conn, br
}

// readFrame parses one multipart part off the wire and returns its body.
func readFrame(br *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length >= 0 {
				break
			}
			continue // leading blank line before the boundary
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", v, err)
			}
			length = n
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return body, nil
}

func TestServer_PreambleAndFirstFrameAreByteExact(t *testing.T) {
	s := newTestServer(t, nil)
	_, br := dialViewer(t, s.Addr())

	payload := []byte("0123456789")
	if err := s.Publisher().Publish(payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	want := "\r\n--MJPEGBOUNDARY\r\nContent-Length: 10\r\nX-Timestamp: 0.000000\r\n\r\n" + string(payload)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if string(got) != want {
		t.Fatalf("wire bytes = %q, want %q", got, want)
	}
}

func TestServer_BroadcastDeliversEveryFrameToEveryViewer(t *testing.T) {
	s := newTestServer(t, nil)

	_, br1 := dialViewer(t, s.Addr())
	_, br2 := dialViewer(t, s.Addr())

	for i := 0; i < 5; i++ {
		payload := []byte{byte(i)}
		if err := s.Publisher().Publish(payload); err != nil {
			t.Fatalf("Publish failed at %d: %v", i, err)
		}
		for vi, br := range []*bufio.Reader{br1, br2} {
			body, err := readFrame(br)
			if err != nil {
				t.Fatalf("viewer %d failed reading frame %d: %v", vi, i, err)
			}
			if len(body) != 1 || body[0] != byte(i) {
				t.Fatalf("viewer %d got %v for frame %d", vi, body, i)
			}
		}
	}
}

func TestServer_SharedModeStealsWithoutDuplication(t *testing.T) {
	s := newTestServer(t, func(cfg *configs.Config) {
		cfg.Server.Stream.Mode = string(stream.ModeShared)
	})

	_, br1 := dialViewer(t, s.Addr())
	_, br2 := dialViewer(t, s.Addr())

	const n = 12
	type recv struct {
		viewer int
		body   byte
	}
	results := make(chan recv, n)

	var wg sync.WaitGroup
	for vi, br := range []*bufio.Reader{br1, br2} {
		wg.Add(1)
		go func(vi int, br *bufio.Reader) {
			defer wg.Done()
			for {
				body, err := readFrame(br)
				if err != nil {
					return
				}
				results <- recv{viewer: vi, body: body[0]}
			}
		}(vi, br)
	}

	for i := 0; i < n; i++ {
		if err := s.Publisher().Publish([]byte{byte(i)}); err != nil {
			t.Fatalf("Publish failed at %d: %v", i, err)
		}
	}

	seen := make(map[byte]int)
	last := map[int]int{0: -1, 1: -1}
	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			seen[r.body]++
			if int(r.body) <= last[r.viewer] {
				t.Errorf("viewer %d saw frame %d after frame %d: reordered", r.viewer, r.body, last[r.viewer])
			}
			last[r.viewer] = int(r.body)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d frames arrived", i, n)
		}
	}

	for b, c := range seen {
		if c != 1 {
			t.Errorf("frame %d delivered %d times, want exactly once", b, c)
		}
	}
	if len(seen) != n {
		t.Errorf("union holds %d distinct frames, want %d", len(seen), n)
	}
}

func TestServer_OpsEndpoints(t *testing.T) {
	s := newTestServer(t, func(cfg *configs.Config) {
		cfg.Server.OpsAddr = "127.0.0.1:0"
	})

	// Serve starts the ops listener before accepting; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for s.OpsAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("ops server never came up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	base := "http://" + s.OpsAddr()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}

	// The snapshot store is disabled in this configuration.
	resp, err = http.Get(base + "/snapshot")
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("snapshot status = %d, want 404", resp.StatusCode)
	}
}
