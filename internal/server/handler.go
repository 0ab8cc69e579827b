package server

import "example.com/statichttpd/internal/http1"

// Handler builds the complete response for one parsed request. An error
// return is rendered by the server through ErrorResponse.
type Handler interface {
	Build(req *http1.Request) (*http1.Response, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(req *http1.Request) (*http1.Response, error)

// Build calls f(req).
func (f HandlerFunc) Build(req *http1.Request) (*http1.Response, error) {
	return f(req)
}
