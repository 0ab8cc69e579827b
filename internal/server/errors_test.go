package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/statichttpd/internal/handlers/staticfileserver"
	"example.com/statichttpd/internal/http1"
)

func TestPrefersJSON(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", true},
		{"APPLICATION/JSON", true},
		{"text/html", false},
		{"*/*", false},
		{"text/html, application/json", false},
		{"application/json, text/html", true},
		{"text/html;q=0.5, application/json", true},
		{"application/*, application/json", true},
		{"application/json;q=0, text/html", false},
		{"application/json;q=abc", false},
		{"text/html;level=1;q=0.2, application/json;q=0.9", true},
	}
	for _, tc := range tests {
		t.Run(tc.accept, func(t *testing.T) {
			assert.Equal(t, tc.want, PrefersJSON(tc.accept))
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want http1.Status
	}{
		{"access denied", staticfileserver.ErrAccessDenied, http1.StatusForbidden},
		{"listing disabled", staticfileserver.ErrListingDisabled, http1.StatusForbidden},
		{"bad path", fmt.Errorf("%w: bad escape", staticfileserver.ErrBadPath), http1.StatusBadRequest},
		{"parse error", &http1.ParseError{Err: http1.ErrMalformedRequestLine}, http1.StatusBadRequest},
		{"method", fmt.Errorf("%w: PUT", staticfileserver.ErrMethodNotAllowed), http1.StatusMethodNotAllowed},
		{"io error", &staticfileserver.IoError{Op: "read", Path: "/srv/x", Err: errors.New("EIO")}, http1.StatusInternalServerError},
		{"unknown", errors.New("boom"), http1.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusForError(tc.err))
		})
	}
}

func TestErrorResponse_HTML(t *testing.T) {
	req := &http1.Request{Method: "GET", Path: "/x", Version: http1.Version10, Header: map[string][]string{}}
	resp := ErrorResponse(req, staticfileserver.ErrAccessDenied)

	assert.Equal(t, http1.StatusForbidden, resp.Status)
	assert.Equal(t, http1.Version10, resp.Version)
	assert.Equal(t, "text/html", resp.ContentType)
	assert.Contains(t, string(resp.Body), "<title>403 Forbidden</title>")
	assert.Contains(t, string(resp.Body), "<h1>Forbidden</h1>")
	assert.Empty(t, resp.Header)
}

func TestErrorResponse_NilRequest(t *testing.T) {
	resp := ErrorResponse(nil, &http1.ParseError{Err: http1.ErrRequestTooLarge})
	assert.Equal(t, http1.StatusBadRequest, resp.Status)
	assert.Equal(t, http1.Version11, resp.Version)
	assert.Contains(t, string(resp.Body), http1.ErrRequestTooLarge.Error())
	assert.False(t, resp.HeadOnly)
}

func TestErrorResponse_MethodNotAllowed(t *testing.T) {
	req := &http1.Request{Method: "HEAD", Path: "/", Version: http1.Version11, Header: map[string][]string{}}
	resp := ErrorResponse(req, staticfileserver.ErrMethodNotAllowed)
	require.Len(t, resp.Header, 1)
	assert.Equal(t, http1.HeaderField{Name: "Allow", Value: "GET, HEAD"}, resp.Header[0])
	assert.True(t, resp.HeadOnly)
}

func TestErrorResponse_DoesNotLeakPaths(t *testing.T) {
	err := &staticfileserver.IoError{Op: "read", Path: "/srv/secret/file", Err: errors.New("input/output error")}
	resp := ErrorResponse(nil, err)
	assert.Equal(t, http1.StatusInternalServerError, resp.Status)
	assert.NotContains(t, string(resp.Body), "/srv/secret")
}

func TestErrorResponse_JSON(t *testing.T) {
	req := &http1.Request{Method: "GET", Path: "/", Version: http1.Version11, Header: map[string][]string{"Accept": {"application/json"}}}
	resp := ErrorResponse(req, staticfileserver.ErrListingDisabled)

	assert.Equal(t, "application/json", resp.ContentType)
	var decoded ErrorResponseJSON
	require.NoError(t, json.Unmarshal(resp.Body, &decoded))
	assert.Equal(t, 403, decoded.Error.StatusCode)
	assert.Equal(t, "Forbidden", decoded.Error.Message)
	assert.Equal(t, "Directory listing is disabled.", decoded.Error.Detail)
}

func TestErrorResponse_JSONMarshalFailureFallsBackToHTML(t *testing.T) {
	original := jsonMarshalFunc
	jsonMarshalFunc = func(v interface{}) ([]byte, error) { return nil, errors.New("marshal failed") }
	defer func() { jsonMarshalFunc = original }()

	req := &http1.Request{Method: "GET", Path: "/", Version: http1.Version11, Header: map[string][]string{"Accept": {"application/json"}}}
	resp := ErrorResponse(req, errors.New("boom"))
	assert.Equal(t, "text/html", resp.ContentType)
	assert.True(t, strings.HasPrefix(string(resp.Body), "<html>"))
}

func TestGenerateHTMLResponseBody_EscapesTitle(t *testing.T) {
	body := string(GenerateHTMLResponseBody("<t>", "<h>", "already &amp; escaped"))
	assert.Contains(t, body, "<title>&lt;t&gt;</title>")
	assert.Contains(t, body, "<h1>&lt;h&gt;</h1>")
	assert.Contains(t, body, "<p>already &amp; escaped</p>")
}
