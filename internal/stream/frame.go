// Package stream implements the frame distribution core: the multipart
// frame codec, the producer-side publisher and the per-connection viewers.
package stream

import "fmt"

// Boundary is the multipart delimiter separating successive frames in the
// response body. It is fixed; clients key on it from the preamble.
const Boundary = "MJPEGBOUNDARY"

// Preamble is the full HTTP response head written once per connection.
// The header block is deliberately left unterminated: the leading \r\n of
// the first part header closes it, matching the wire format clients expect.
const Preamble = "HTTP/1.1 200 OK\r\nContent-Type: multipart/x-mixed-replace;boundary=" + Boundary + "\r\n"

// Frame is one encoded unit of video: the multipart part header plus the
// JPEG body, destined for at least one viewer.
type Frame struct {
	Header []byte
	Body   []byte
}

// EncodeFrame wraps a raw JPEG buffer into its wire unit. The body is
// carried unchanged; no JPEG validation is performed. The X-Timestamp
// field is a fixed placeholder.
func EncodeFrame(jpeg []byte) Frame {
	header := fmt.Sprintf("\r\n--%s\r\nContent-Length: %d\r\nX-Timestamp: 0.000000\r\n\r\n", Boundary, len(jpeg))
	return Frame{
		Header: []byte(header),
		Body:   jpeg,
	}
}
