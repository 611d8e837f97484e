package stream

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestEncodeFrame_HeaderDeclaresBodyLength(t *testing.T) {
	body := []byte("not really a jpeg, which is fine")
	f := EncodeFrame(body)

	header := string(f.Header)
	if !strings.HasPrefix(header, "\r\n--"+Boundary+"\r\n") {
		t.Fatalf("header does not start with the boundary marker: %q", header)
	}
	if !strings.HasSuffix(header, "\r\n\r\n") {
		t.Fatalf("header is not terminated by a blank line: %q", header)
	}

	var declared = -1
	for _, line := range strings.Split(strings.TrimSpace(header), "\r\n") {
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				t.Fatalf("unparseable Content-Length %q: %v", v, err)
			}
			declared = n
		}
	}
	if declared != len(body) {
		t.Errorf("declared length %d, body is %d bytes", declared, len(body))
	}

	if !strings.Contains(header, "X-Timestamp: 0.000000\r\n") {
		t.Errorf("missing fixed timestamp placeholder in %q", header)
	}
}

func TestEncodeFrame_BodyPassedThroughUnchanged(t *testing.T) {
	body := []byte{0xFF, 0xD8, 0x00, 0x42, 0xFF, 0xD9}
	f := EncodeFrame(body)
	if !bytes.Equal(f.Body, body) {
		t.Errorf("body altered by encoding: got %v, want %v", f.Body, body)
	}
}

func TestEncodeFrame_EmptyBody(t *testing.T) {
	f := EncodeFrame(nil)
	want := fmt.Sprintf("\r\n--%s\r\nContent-Length: 0\r\nX-Timestamp: 0.000000\r\n\r\n", Boundary)
	if string(f.Header) != want {
		t.Errorf("header = %q, want %q", f.Header, want)
	}
	if len(f.Body) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(f.Body))
	}
}
