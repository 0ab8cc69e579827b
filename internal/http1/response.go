package http1

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Status is the subset of HTTP status codes this server produces.
type Status int

const (
	StatusOK                  Status = 200
	StatusBadRequest          Status = 400
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusMethodNotAllowed    Status = 405
	StatusInternalServerError Status = 500
)

// Code returns the numeric status code.
func (s Status) Code() int { return int(s) }

// Reason returns the standard reason phrase.
func (s Status) Reason() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusInternalServerError:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}

// String renders the status as it appears on the status line, e.g. "404 Not Found".
func (s Status) String() string {
	return strconv.Itoa(int(s)) + " " + s.Reason()
}

// AcceptRanges is the byte-range capability advertised in responses.
type AcceptRanges int

const (
	AcceptRangesNone AcceptRanges = iota
	AcceptRangesBytes
)

func (a AcceptRanges) String() string {
	if a == AcceptRangesBytes {
		return "bytes"
	}
	return "none"
}

// HeaderField is an extra response header beyond the fixed framing set.
type HeaderField struct {
	Name  string
	Value string
}

// Response is a complete, fully buffered response. The Content-Length sent
// on the wire is always len(Body).
type Response struct {
	Version      Version
	Status       Status
	ContentType  string
	AcceptRanges AcceptRanges
	Header       []HeaderField
	Body         []byte
	// HeadOnly suppresses the body on the wire while keeping its length
	// in Content-Length.
	HeadOnly bool
}

// ContentLength is the declared body length.
func (r *Response) ContentLength() int { return len(r.Body) }

// WriteTo serializes the status line, header block and body to w. Every
// response kind goes through this one routine.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	fmt.Fprintf(cw, "%s %s\r\n", r.Version, r.Status)
	fmt.Fprintf(cw, "Content-Length: %d\r\n", r.ContentLength())
	fmt.Fprintf(cw, "Content-Type: %s\r\n", r.ContentType)
	fmt.Fprintf(cw, "Accept-Ranges: %s\r\n", r.AcceptRanges)
	for _, h := range r.Header {
		fmt.Fprintf(cw, "%s: %s\r\n", h.Name, h.Value)
	}
	io.WriteString(cw, "Connection: close\r\n\r\n")
	if !r.HeadOnly {
		cw.Write(r.Body)
	}
	if cw.err != nil {
		return cw.n, cw.err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Bytes returns the serialized response.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	r.WriteTo(&buf)
	return buf.Bytes()
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
