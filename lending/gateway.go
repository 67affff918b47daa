package lending

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Gateway executes every request the client makes against the lending
// service. It is the one place credentials are attached and the one
// place authorization failure is interpreted, so the invalidation
// invariant holds no matter which operation tripped it.
//
// The gateway never retries; borrow/return depend on at-most-once
// submission and a retry layer would mask that.
type Gateway struct {
	session *Session
	conn    *resty.Client

	// onUnauthorized fires exactly once per request that came back
	// 401, after the session has been cleared. The CLI's navigation
	// handler consumes it; nothing else should.
	onUnauthorized func()
}

// NewGateway builds a gateway for the service at cfg.APIURL, reading
// credentials from session on every call.
func NewGateway(cfg *Config, session *Session) *Gateway {
	conn := resty.New().
		SetTransport(&http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		}).
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.HTTPTimeout)

	return &Gateway{session: session, conn: conn}
}

// OnUnauthorized registers the single redirect-to-login handler.
func (g *Gateway) OnUnauthorized(fn func()) { g.onUnauthorized = fn }

// Do executes one request. body may be nil; on 2xx the response body is
// decoded into out when out is non-nil. Every failure is returned as an
// *APIError carrying the server's own message where one was present.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	req := g.conn.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return g.execute(req, method, path, out)
}

// Upload executes one multipart file upload, streaming r as the named
// form field. Used by the staff CSV catalog upload.
func (g *Gateway) Upload(ctx context.Context, path, field, filename string, r io.Reader, out any) error {
	req := g.conn.R().SetContext(ctx).SetFileReader(field, filename, r)
	return g.execute(req, http.MethodPost, path, out)
}

func (g *Gateway) execute(req *resty.Request, method, path string, out any) error {
	if token, ok := g.session.Token(); ok {
		req.SetHeader("Authorization", "Token "+token)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		slog.Debug("request failed", "method", method, "path", path, "error", err)
		return &APIError{
			Kind:    KindTransport,
			Message: "could not reach the library service",
			err:     err,
		}
	}

	slog.Debug("request", "method", method, "path", path, "status", resp.StatusCode())

	if !resp.IsSuccess() {
		return g.classify(resp)
	}

	// Decoded by hand rather than via the transport's own result
	// binding so that a server omitting the JSON content type still
	// yields a usable payload.
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &APIError{
				Kind:       KindServer,
				StatusCode: resp.StatusCode(),
				Message:    "malformed response from the library service",
				err:        err,
			}
		}
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy. A 401
// invalidates the session before the error is returned so the caller
// observes Token() absent immediately after.
func (g *Gateway) classify(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	apiErr.Message, apiErr.Fields = parseErrorBody(resp.Body())

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		apiErr.Kind = KindUnauthorized
		g.session.ClearToken()
		if g.onUnauthorized != nil {
			g.onUnauthorized()
		}
	case code == http.StatusForbidden:
		apiErr.Kind = KindForbidden
	case code == http.StatusNotFound:
		apiErr.Kind = KindNotFound
	case code == http.StatusConflict:
		apiErr.Kind = KindConflict
	case code >= 400 && code < 500:
		apiErr.Kind = KindValidation
	default:
		apiErr.Kind = KindServer
	}

	if apiErr.Message == "" {
		apiErr.Message = fallbackMessage(apiErr.Kind)
	}
	return apiErr
}

// parseErrorBody pulls the server-provided message out of a structured
// error body. The service answers with {"message": ...} or
// {"detail": ...}; validation failures come back as a map of
// field -> list of problems, which is kept for itemized display.
func parseErrorBody(body []byte) (string, map[string][]string) {
	if len(body) == 0 {
		return "", nil
	}

	var envelope struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Message != "":
			return envelope.Message, nil
		case envelope.Detail != "":
			return envelope.Detail, nil
		case envelope.Error != "":
			return envelope.Error, nil
		}
	}

	var fields map[string][]string
	if err := json.Unmarshal(body, &fields); err == nil && len(fields) > 0 {
		return "", fields
	}
	return "", nil
}

func fallbackMessage(kind ErrorKind) string {
	switch kind {
	case KindUnauthorized:
		return "your session has expired, please log in again"
	case KindForbidden:
		return "you do not have permission to do that"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "the request conflicted with the current state"
	case KindValidation:
		return "the request was rejected"
	default:
		return "the library service reported an error"
	}
}
