package http1

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_WriteTo(t *testing.T) {
	resp := &Response{
		Version:     Version11,
		Status:      StatusOK,
		ContentType: "text/html",
		Body:        []byte("<h1>hi</h1>"),
	}

	var buf bytes.Buffer
	n, err := resp.WriteTo(&buf)
	require.NoError(t, err)

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 11\r\n" +
		"Content-Type: text/html\r\n" +
		"Accept-Ranges: none\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"<h1>hi</h1>"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, 11, resp.ContentLength())
}

func TestResponse_ExtraHeadersAndHead(t *testing.T) {
	resp := &Response{
		Version:     Version10,
		Status:      StatusMethodNotAllowed,
		ContentType: "text/html",
		Header:      []HeaderField{{Name: "Allow", Value: "GET, HEAD"}},
		Body:        []byte("nope"),
		HeadOnly:    true,
	}

	out := string(resp.Bytes())
	assert.Contains(t, out, "HTTP/1.0 405 Method Not Allowed\r\n")
	assert.Contains(t, out, "Content-Length: 4\r\n")
	assert.Contains(t, out, "Allow: GET, HEAD\r\n")
	assert.True(t, bytes.HasSuffix([]byte(out), []byte("Connection: close\r\n\r\n")), "HEAD response must not carry a body: %q", out)
}

func TestResponse_SingleHeaderBlock(t *testing.T) {
	resp := &Response{Version: Version11, Status: StatusNotFound, ContentType: "text/html", Body: []byte("<html></html>")}
	out := resp.Bytes()
	assert.Equal(t, 1, bytes.Count(out, []byte("Content-Length:")))
	assert.Equal(t, 1, bytes.Count(out, []byte("Accept-Ranges:")))
	assert.Equal(t, 1, bytes.Count(out, []byte("\r\n\r\n")))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestResponse_WriteError(t *testing.T) {
	resp := &Response{Version: Version11, Status: StatusOK, ContentType: "text/plain", Body: bytes.Repeat([]byte("x"), 8192)}
	_, err := resp.WriteTo(failingWriter{})
	assert.Error(t, err)
}

func TestStatusAndAcceptRanges_String(t *testing.T) {
	assert.Equal(t, "200 OK", StatusOK.String())
	assert.Equal(t, "404 Not Found", StatusNotFound.String())
	assert.Equal(t, "403 Forbidden", StatusForbidden.String())
	assert.Equal(t, 500, StatusInternalServerError.Code())
	assert.Equal(t, "none", AcceptRangesNone.String())
	assert.Equal(t, "bytes", AcceptRangesBytes.String())
}
