package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"example.com/statichttpd/internal/handlers/staticfileserver"
	"example.com/statichttpd/internal/http1"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

type htmlMessage struct {
	Title   string
	Heading string
	Message string
}

// defaultHTMLMessages holds the fixed page for each error status. 404 is
// not here: missing paths are a regular response built by the handler.
var defaultHTMLMessages = map[http1.Status]htmlMessage{
	http1.StatusBadRequest: {
		Title:   "400 Bad Request",
		Heading: "Bad Request",
		Message: "The server cannot process the request due to a client error.",
	},
	http1.StatusForbidden: {
		Title:   "403 Forbidden",
		Heading: "Forbidden",
		Message: "You do not have permission to access this resource.",
	},
	http1.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The request method is not supported for this resource.",
	},
	http1.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
}

// StatusForError maps a request-handling error to the status sent to the client.
func StatusForError(err error) http1.Status {
	var parseErr *http1.ParseError
	switch {
	case errors.Is(err, staticfileserver.ErrMethodNotAllowed):
		return http1.StatusMethodNotAllowed
	case errors.Is(err, staticfileserver.ErrAccessDenied):
		return http1.StatusForbidden
	case errors.Is(err, staticfileserver.ErrBadPath), errors.As(err, &parseErr):
		return http1.StatusBadRequest
	default:
		return http1.StatusInternalServerError
	}
}

// clientDetail is the part of err that is safe to show a client. Filesystem
// errors are reduced to nothing so server paths never leak.
func clientDetail(err error) string {
	var parseErr *http1.ParseError
	switch {
	case errors.As(err, &parseErr):
		return parseErr.Err.Error()
	case errors.Is(err, staticfileserver.ErrListingDisabled):
		return "Directory listing is disabled."
	case errors.Is(err, staticfileserver.ErrBadPath):
		return "The request path could not be decoded."
	default:
		return ""
	}
}

// ErrorResponse renders err as a complete response. req may be nil when
// the request head could not be parsed; the reply then uses HTTP/1.1 and HTML.
func ErrorResponse(req *http1.Request, err error) *http1.Response {
	status := StatusForError(err)
	version := http1.Version11
	accept := ""
	headOnly := false
	if req != nil {
		version = req.Version
		accept = req.Header.Get("Accept")
		headOnly = req.Method == "HEAD"
	}

	contentType, body := errorBody(status, clientDetail(err), PrefersJSON(accept))
	resp := &http1.Response{
		Version:      version,
		Status:       status,
		ContentType:  contentType,
		AcceptRanges: http1.AcceptRangesNone,
		Body:         body,
		HeadOnly:     headOnly,
	}
	if status == http1.StatusMethodNotAllowed {
		resp.Header = append(resp.Header, http1.HeaderField{Name: "Allow", Value: "GET, HEAD"})
	}
	return resp
}

func errorBody(status http1.Status, detail string, wantJSON bool) (string, []byte) {
	if wantJSON {
		body, err := jsonMarshalFunc(ErrorResponseJSON{Error: ErrorDetail{
			StatusCode: status.Code(),
			Message:    status.Reason(),
			Detail:     detail,
		}})
		if err == nil {
			return "application/json", body
		}
	}

	msg, ok := defaultHTMLMessages[status]
	if !ok {
		msg = htmlMessage{Title: status.String(), Heading: status.Reason(), Message: "The server encountered an error processing your request."}
	}
	text := msg.Message
	if detail != "" {
		text += " " + html.EscapeString(detail)
	}
	return "text/html", GenerateHTMLResponseBody(msg.Title, msg.Heading, text)
}

// GenerateHTMLResponseBody creates a simple HTML error page. message is
// inserted as-is and must already be escaped.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	return []byte(fmt.Sprintf("<html>\n<head><title>%s</title></head>\n<body>\n<h1>%s</h1>\n<p>%s</p>\n</body>\n</html>\n",
		html.EscapeString(title), html.EscapeString(heading), message))
}

// PrefersJSON reports whether the Accept header ranks application/json
// above every other acceptable type.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			mediaType = strings.TrimSpace(part[:idx])
			for _, param := range strings.Split(part[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(param, "q=") {
					q = parseQValue(param[2:])
					break
				}
			}
		}
		// q=0 means "not acceptable".
		if q > 0 {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         q,
				specific:  !strings.HasSuffix(mediaType, "/*"),
				order:     i,
			})
		}
	}
	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// parseQValue parses a q-value; malformed or out-of-range values count as 0.
func parseQValue(qStr string) float64 {
	q, err := strconv.ParseFloat(qStr, 64)
	if err != nil || q < 0 || q > 1 {
		return 0
	}
	return q
}
