// Package model defines the transient request/response types of one forwarded exchange.
package model

import (
	"context"
	"io"
	"net/http"
)

// InboundRequest is a caller request addressed to the gateway prefix.
// Body is nil when the request carries none and is consumed at most once.
type InboundRequest struct {
	Ctx           context.Context
	Method        string
	Path          string // escaped path as received, prefix included
	RawQuery      string
	Host          string
	Header        http.Header
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// OutboundRequest is the upstream request derived from an InboundRequest.
type OutboundRequest struct {
	Ctx           context.Context
	Method        string
	URL           string
	Host          string // empty means the upstream authority
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Trailer    http.Header // values are filled in once Body reaches EOF
	Body       io.ReadCloser
}

// Outcome is the terminal state of one forwarded exchange.
type Outcome string

const (
	OutcomeSuccess        Outcome = "relayed_success"
	OutcomeUpstreamError  Outcome = "relayed_upstream_error"
	OutcomeTransportError Outcome = "transport_error"
)

// OutcomeFor classifies a relayed upstream status.
func OutcomeFor(status int) Outcome {
	if status >= 200 && status < 300 {
		return OutcomeSuccess
	}
	return OutcomeUpstreamError
}
