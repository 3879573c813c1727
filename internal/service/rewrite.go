package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrOutsidePrefix is returned when a path handed to the rewriter is not
// under the gateway prefix. Routing only sends prefixed paths here, so this
// signals a wiring bug rather than a caller error.
var ErrOutsidePrefix = errors.New("path is outside the gateway prefix")

// Rewriter maps inbound paths under a fixed prefix onto upstream URLs.
// It is immutable after construction.
type Rewriter struct {
	prefix string
	origin string // scheme://host[:port]
	base   string // escaped base path without trailing slash
}

// NewRewriter builds a Rewriter for prefix and the upstream baseURL.
func NewRewriter(prefix, baseURL string) (*Rewriter, error) {
	if prefix == "" || prefix[0] != '/' || strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("invalid gateway prefix %q", prefix)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q needs scheme and host", baseURL)
	}

	return &Rewriter{
		prefix: prefix,
		origin: u.Scheme + "://" + u.Host,
		base:   strings.TrimSuffix(u.EscapedPath(), "/"),
	}, nil
}

// Prefix returns the stripped prefix.
func (r *Rewriter) Prefix() string {
	return r.prefix
}

// Strip removes the prefix from escapedPath exactly once. The remainder is
// returned byte for byte; dot segments and encodings are left alone.
func (r *Rewriter) Strip(escapedPath string) (string, error) {
	if escapedPath != r.prefix && !strings.HasPrefix(escapedPath, r.prefix+"/") {
		return "", fmt.Errorf("%w: %q", ErrOutsidePrefix, escapedPath)
	}
	return escapedPath[len(r.prefix):], nil
}

// Rewrite returns the upstream URL for an inbound escaped path and raw query.
func (r *Rewriter) Rewrite(escapedPath, rawQuery string) (string, error) {
	rest, err := r.Strip(escapedPath)
	if err != nil {
		return "", err
	}

	path := r.base + rest
	if path == "" {
		// A request-target cannot be empty.
		path = "/"
	}

	target := r.origin + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target, nil
}
