package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	pkgerrors "RouteLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// defaultMaxBodyBytes caps downstream reply bodies when unset.
const defaultMaxBodyBytes = 10 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPTransport forwards requests to instances over HTTP/1.1 or HTTP/2.
type HTTPTransport struct {
	client  *http.Client
	maxBody int64
	logger  *log.Helper
}

// NewHTTPTransport builds the downstream transport. router.proxy_url may
// name a socks5:// or http(s):// egress proxy.
func NewHTTPTransport(c *conf.Router, logger log.Logger) (*HTTPTransport, error) {
	helper := log.NewHelper(log.With(logger, "module", "transport"))

	dialer := &net.Dialer{
		Timeout:   2 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	maxBody := int64(defaultMaxBodyBytes)
	if c != nil {
		if c.MaxRequestBytes > 0 {
			maxBody = c.MaxRequestBytes
		}
		if c.ProxyURL != "" {
			if err := configureProxy(tr, dialer, c.ProxyURL); err != nil {
				return nil, err
			}
			helper.Infof("downstream traffic goes through proxy %s", redactURL(c.ProxyURL))
		}
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: tr,
			// redirects are the caller's business
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: maxBody,
		logger:  helper,
	}, nil
}

func configureProxy(tr *http.Transport, dialer *net.Dialer, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks5 dialer does not support contexts")
		}
		tr.DialContext = cd.DialContext
	case "http", "https":
		tr.Proxy = http.ProxyURL(u)
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// Call sends req to inst and returns the reply for any status code. The
// remaining budget of ctx is forwarded on the deadline header.
func (t *HTTPTransport) Call(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
	target := url.URL{
		Scheme:   "http",
		Host:     inst.Address(),
		Path:     req.Path,
		RawQuery: req.Query,
	}
	if inst.Metadata["scheme"] == "https" {
		target.Scheme = "https"
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	out, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	copyHeader(out.Header, req.Header)
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 {
			out.Header.Set(model.HeaderDeadline, strconv.FormatInt(ms, 10))
		}
	}

	res, err := t.client.Do(out)
	if err != nil {
		te := pkgerrors.ClassifyTransportError(err)
		t.logger.Debugw("msg", "downstream call failed",
			"instance_id", inst.ID,
			"address", inst.Address(),
			"error_type", te.Type.String(),
			"error", err)
		return nil, te
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, t.maxBody+1))
	if err != nil {
		return nil, pkgerrors.ClassifyTransportError(err)
	}
	if int64(len(data)) > t.maxBody {
		return nil, pkgerrors.NewResponseTooLargeError(inst.ID, t.maxBody)
	}

	header := make(http.Header, len(res.Header))
	copyHeader(header, res.Header)
	return &model.Response{
		StatusCode: res.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}

// copyHeader copies src into dst without hop-by-hop headers.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	if conn := src.Get("Connection"); conn != "" {
		for _, f := range strings.Split(conn, ",") {
			if f = strings.TrimSpace(f); f != "" {
				dst.Del(f)
			}
		}
	}
}
