package service

import (
	"encoding/json"
	"net/http"

	"api-gateway/internal/model"
)

// MessageServiceUnavailable is the error text for any upstream that could not
// be reached.
const MessageServiceUnavailable = "Service unavailable"

// Reply is what the gateway sends back for a forwarded request.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// ErrorBody renders the gateway's error envelope: {"error": msg}.
func ErrorBody(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// Normalize turns a forwarding outcome into a client reply. Upstream
// responses pass through untouched; failures become the error envelope with
// the upstream-supplied status if there is one, 500 otherwise.
func Normalize(o model.Outcome) Reply {
	switch o := o.(type) {
	case *model.Relayed:
		header := o.Header.Clone()
		if header == nil {
			header = make(http.Header)
		}
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
		return Reply{Status: o.StatusCode, Header: header, Body: o.Body}
	case *model.Failed:
		status := http.StatusInternalServerError
		if o.StatusCode != 0 {
			status = o.StatusCode
		}
		return errorReply(status, MessageServiceUnavailable)
	default:
		return errorReply(http.StatusInternalServerError, MessageServiceUnavailable)
	}
}

func errorReply(status int, msg string) Reply {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return Reply{Status: status, Header: header, Body: ErrorBody(msg)}
}
