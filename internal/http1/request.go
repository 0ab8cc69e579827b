// Package http1 reads HTTP/1.x request heads and serializes responses for a
// one-request-per-connection server.
package http1

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// Version is the protocol version named on the request line.
type Version int

const (
	VersionUnknown Version = iota
	Version10
	Version11
	Version20
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	case Version20:
		return "HTTP/2.0"
	default:
		return "HTTP/1.1"
	}
}

// ParseVersion maps a request-line protocol token to a Version.
func ParseVersion(s string) (Version, bool) {
	switch s {
	case "HTTP/1.0":
		return Version10, true
	case "HTTP/1.1":
		return Version11, true
	case "HTTP/2.0", "HTTP/2":
		return Version20, true
	}
	return VersionUnknown, false
}

// Request is an inbound request head. Path is the raw, still percent-encoded
// request target as sent by the client.
type Request struct {
	Method  string
	Path    string
	Version Version
	Header  http.Header
}

var (
	// ErrRequestTooLarge is returned when the request head does not fit
	// the configured read buffer.
	ErrRequestTooLarge = errors.New("request head exceeds read buffer")
	// ErrMalformedRequestLine is returned for request lines that are not METHOD SP PATH SP VERSION.
	ErrMalformedRequestLine = errors.New("malformed request line")
	// ErrUnsupportedVersion is returned for protocol tokens other than HTTP/1.0, HTTP/1.1 and HTTP/2.0.
	ErrUnsupportedVersion = errors.New("unsupported HTTP version")
)

// ParseError reports why a request head could not be parsed.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("http1: %v", e.Err)
	}
	return fmt.Sprintf("http1: %v: %q", e.Err, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadRequest reads one request head from r. At most maxBytes are buffered
// for the request line and headers together; reads are repeated until the
// head is complete, so a request line split across TCP segments is handled.
// The request body, if any, is not read.
func ReadRequest(r io.Reader, maxBytes int) (*Request, error) {
	lr := &io.LimitedReader{R: r, N: int64(maxBytes)}
	br := bufio.NewReaderSize(lr, maxBytes)

	line, err := readLine(br, lr)
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return nil, err
	}
	// A request line cut short by EOF is still parsed: some clients close
	// their write side without sending a terminator.
	atEOF := err != nil
	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	req.Header = make(http.Header)
	for !atEOF {
		hl, err := readLine(br, lr)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if hl == "" {
			break
		}
		name, value, ok := strings.Cut(hl, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, &ParseError{Line: hl, Err: errors.New("malformed header line")}
		}
		req.Header.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	}
	return req, nil
}

// readLine returns the next CRLF- or LF-terminated line without its
// terminator. A final unterminated line is returned together with io.EOF.
func readLine(br *bufio.Reader, lr *io.LimitedReader) (string, error) {
	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", &ParseError{Err: ErrRequestTooLarge}
	case errors.Is(err, io.EOF):
		if lr.N <= 0 {
			return "", &ParseError{Err: ErrRequestTooLarge}
		}
		return string(bytes.TrimSuffix(line, []byte{'\r'})), io.EOF
	default:
		return "", err
	}
	line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
	return string(line), nil
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, &ParseError{Line: line, Err: ErrMalformedRequestLine}
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || !isToken(method) {
		return nil, &ParseError{Line: line, Err: ErrMalformedRequestLine}
	}
	if !strings.HasPrefix(target, "/") {
		return nil, &ParseError{Line: line, Err: ErrMalformedRequestLine}
	}
	version, ok := ParseVersion(proto)
	if !ok {
		return nil, &ParseError{Line: line, Err: ErrUnsupportedVersion}
	}
	return &Request{Method: method, Path: target, Version: version}, nil
}

func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`()<>@,;:\"/[]?={}`, c) >= 0 {
			return false
		}
	}
	return true
}
