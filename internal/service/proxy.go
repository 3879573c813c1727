// Package service implements the core forwarding logic: prefix rewriting,
// building the outbound request, and classifying transport failures.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"bff-gateway/internal/client"
	"bff-gateway/internal/config"
	"bff-gateway/internal/model"
)

// hopByHopHeaders are response headers owned by the connection rather than
// the message. net/http manages them itself on the caller side, so relaying
// the upstream copies would duplicate or contradict them.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Trailer",
	"Upgrade",
}

// ErrBodyTooLarge reports a request body longer than server.body_max_bytes.
var ErrBodyTooLarge = errors.New("request body too large")

// ProxyService turns inbound requests into upstream requests. It holds no
// per-request state and is safe for concurrent use.
type ProxyService struct {
	client   *client.UpstreamClient
	rewriter *Rewriter
	keepHost  bool
	bodyLimit int64
	logger    *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	rw, err := NewRewriter(cfg.Gateway.Prefix, cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	return &ProxyService{
		client:    c,
		rewriter:  rw,
		keepHost:  cfg.Gateway.KeepHost(),
		bodyLimit: cfg.Server.BodyMaxBytes,
		logger:    logger.With("component", "proxy_service"),
	}, nil
}

// Forward sends an InboundRequest upstream and returns the response with its
// body unread. The caller is responsible for closing the response body.
//
// Method, headers and body are passed through untouched; only the URL
// changes. A non-2xx upstream status is not an error.
func (s *ProxyService) Forward(in *model.InboundRequest) (*model.ProxyResponse, error) {
	out, err := s.Outbound(in)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", in.Path,
		"upstream_url", out.URL,
	)

	resp, err := s.client.Send(out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	StripHopByHop(resp.Header)
	return resp, nil
}

// Outbound derives the upstream request from in.
func (s *ProxyService) Outbound(in *model.InboundRequest) (*model.OutboundRequest, error) {
	target, err := s.rewriter.Rewrite(in.Path, in.RawQuery)
	if err != nil {
		return nil, err
	}

	out := &model.OutboundRequest{
		Ctx:           in.Ctx,
		Method:        in.Method,
		URL:           target,
		Header:        in.Header,
		ContentLength: in.ContentLength,
	}
	// Zero length without chunking means no body; don't open a stream.
	if in.ContentLength != 0 {
		out.Body = in.Body
		if s.bodyLimit > 0 && in.Body != nil {
			out.Body = &cappedBody{ReadCloser: in.Body, left: s.bodyLimit}
		}
	}
	if s.keepHost {
		out.Host = in.Host
	}
	return out, nil
}

// cappedBody passes at most left bytes through. Reading past that fails with
// ErrBodyTooLarge and the extra byte is never handed on.
type cappedBody struct {
	io.ReadCloser
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.left <= 0 {
		var one [1]byte
		n, err := b.ReadCloser.Read(one[:])
		if n > 0 {
			return 0, ErrBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err := b.ReadCloser.Read(p)
	b.left -= int64(n)
	return n, err
}

// StripHopByHop removes connection-scoped headers, including any named by
// the Connection header, from h in place.
func StripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range splitTokens(v) {
			h.Del(name)
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func splitTokens(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// Transport failure causes reported in logs and metrics.
const (
	CauseTimeout    = "timeout"
	CauseCanceled   = "canceled"
	CauseDNS        = "dns"
	CauseConnection = "connection"
	CauseOther      = "other"
)

// Cause classifies a transport failure. The result is for operators only and
// is never sent to the caller.
func Cause(err error) string {
	if errors.Is(err, context.Canceled) {
		return CauseCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CauseTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CauseDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CauseConnection
	}

	return CauseOther
}
