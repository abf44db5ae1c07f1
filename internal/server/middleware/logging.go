// Package middleware holds the kratos middlewares of the gateway's HTTP
// server.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"RouteLane/internal/model"
	pkglog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Logging returns a middleware that logs every request, flags slow ones,
// and injects a RequestContext so downstream logs carry the request id and
// the routed instance.
//
// Example output:
//
//	🟢 GET /orders/42 - 200 (12ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | GET /orders/42 | 1438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Kind().String()
				path = tr.Operation()

				if ht, ok := tr.(khttp.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
					requestID = httpReq.Header.Get(HeaderRequestID)
				}
				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set(HeaderRequestID, requestID)
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}

			ctx = pkglog.WithRequestContext(ctx, requestID)

			// propagate the id to the downstream instance
			if r, ok := req.(*model.Request); ok {
				if r.Header == nil {
					r.Header = http.Header{}
				}
				r.Header.Set(HeaderRequestID, requestID)
			}

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			status := replyStatus(reply, err)

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP returns the client address.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// replyStatus derives the HTTP status written for a handler outcome.
func replyStatus(reply interface{}, err error) int {
	if err != nil {
		return errors.Code(err)
	}
	if resp, ok := reply.(*model.Response); ok && resp != nil {
		return resp.StatusCode
	}
	return http.StatusOK
}
