package handler

import (
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"bff-gateway/internal/metrics"
	"bff-gateway/internal/middleware"
	"bff-gateway/internal/model"
	"bff-gateway/internal/service"
)

// TransportErrorMessage is the only detail a caller sees when the upstream
// could not be reached.
const TransportErrorMessage = "Proxy request failed"

const relayBufferSize = 32 * 1024

// ProxyHandler forwards requests under the gateway prefix to the upstream service.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// Let the upstream answer while the upload is still in flight.
	if err := http.NewResponseController(c.Response()).EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("full duplex unavailable", "err", err)
	}

	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Host:          req.Host,
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}

	resp, err := h.service.Forward(in)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = append(dst[key], vals...)
	}
	if len(resp.Trailer) > 0 {
		dst.Set("Trailer", strings.Join(slices.Sorted(maps.Keys(resp.Trailer)), ", "))
	}
	c.Response().WriteHeader(resp.StatusCode)

	outcome := model.OutcomeFor(resp.StatusCode)
	h.record(c, outcome)

	// Status and headers are on the wire now. A failure from here on can only
	// truncate the body, so it is logged and the exchange ends.
	n, err := relay(c.Response(), resp.Body)
	if err == nil {
		relayTrailers(dst, resp.Trailer)
	}
	if h.metrics != nil {
		h.metrics.BytesRelayed.Add(float64(n))
	}
	if err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"path", req.URL.Path,
			"bytes", n,
			"cause", service.Cause(err),
		)
	}

	return nil
}

// relay copies src to w one chunk at a time, flushing after each chunk so
// streamed responses reach the caller as they arrive. Memory use is one
// buffer regardless of body size.
func relay(w *echo.Response, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return written, ferr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// relayTrailers hands upstream trailers to net/http, which sends them after
// the last chunk. The header is already written, so they go under
// http.TrailerPrefix.
func relayTrailers(dst, trailer http.Header) {
	for key, vals := range trailer {
		for _, v := range vals {
			dst.Add(http.TrailerPrefix+key, v)
		}
	}
}

// mapError answers for failures that happened before any upstream byte was
// relayed. The cause is logged, never returned to the caller.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, service.ErrOutsidePrefix) {
		h.logger.Error("request routed outside gateway prefix", "err", err, "path", path)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	}

	var he *echo.HTTPError
	if errors.Is(err, service.ErrBodyTooLarge) ||
		(errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge) {
		h.logger.Warn("request body too large", "path", path)
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request body too large",
		})
	}

	cause := service.Cause(err)
	h.logger.Error("proxy error",
		"err", err,
		"cause", cause,
		"path", path,
	)
	if h.metrics != nil {
		h.metrics.UpstreamErrors.WithLabelValues(cause).Inc()
	}
	h.record(c, model.OutcomeTransportError)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": TransportErrorMessage,
	})
}

func (h *ProxyHandler) record(c echo.Context, outcome model.Outcome) {
	c.Set(middleware.OutcomeKey, outcome)
	if h.metrics != nil {
		h.metrics.Outcomes.WithLabelValues(string(outcome)).Inc()
	}
}
