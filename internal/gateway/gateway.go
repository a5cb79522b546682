// Package gateway is the single chokepoint for calls to the backend REST API.
//
// Every outbound request picks up the held bearer credential here. A 401 or
// 422 answer tears the credential down, redirects the user to the login entry
// point and surfaces ErrSessionExpired; nothing is ever retried.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GenericServerError is shown when an error body cannot be decoded.
const GenericServerError = "サーバーエラー"

// ErrSessionExpired is returned after the backend rejected the credential.
// Callers must treat it as fatal for the current session.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx, non-auth answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Credentials is the slice of the credential context the gateway needs.
type Credentials interface {
	Token() string
	Clear(ctx context.Context) error
}

// Navigator performs the forced navigation to the login entry point.
type Navigator interface {
	RedirectToLogin(location string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(location string)

// RedirectToLogin calls f.
func (f NavigatorFunc) RedirectToLogin(location string) { f(location) }

// Request describes one outbound call. At most one of JSON and Form is set.
type Request struct {
	Method string
	Path   string
	JSON   any
	Form   *MultipartForm

	// Anonymous requests carry no credential and never trigger session
	// expiry; a 401 on login is a wrong password, not an expired session.
	Anonymous bool
}

// MultipartForm is a binary form payload.
type MultipartForm struct {
	Fields map[string]string
	Files  []FormFile
}

// FormFile is one file part of a multipart form.
type FormFile struct {
	Field    string
	FileName string
	Reader   io.Reader
}

// Response is the raw backend answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Options configures a Gateway.
type Options struct {
	BaseURL   string
	LoginPath string
	Timeout   time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Gateway attaches credentials and interprets authorization failures.
type Gateway struct {
	client    *resty.Client
	creds     Credentials
	nav       Navigator
	loginPath string
	logger    *slog.Logger
}

// New creates a gateway for the backend at opts.BaseURL.
func New(opts Options, creds Credentials, nav Navigator, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		}
	}

	client := resty.NewWithClient(httpClient).
		SetBaseURL(opts.BaseURL).
		SetRetryCount(0)

	return &Gateway{
		client:    client,
		creds:     creds,
		nav:       nav,
		loginPath: opts.LoginPath,
		logger:    logger,
	}
}

// Send performs req. Non-2xx answers return the raw response together with
// an *APIError; 401/422 return ErrSessionExpired after the teardown ran.
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	r := g.client.R().SetContext(ctx)

	if !req.Anonymous && g.creds != nil {
		if token := g.creds.Token(); token != "" {
			r.SetAuthToken(token)
		}
	}

	switch {
	case req.Form != nil:
		// The multipart writer sets Content-Type with its boundary.
		r.SetMultipartFormData(req.Form.Fields)
		for _, f := range req.Form.Files {
			r.SetFileReader(f.Field, f.FileName, f.Reader)
		}
	case req.JSON != nil:
		body, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", req.Method, req.Path, err)
		}
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	default:
		r.SetHeader("Content-Type", "application/json")
	}

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}

	status := resp.StatusCode()
	if !req.Anonymous && (status == http.StatusUnauthorized || status == http.StatusUnprocessableEntity) {
		g.expireSession(ctx, req, status)
		return nil, ErrSessionExpired
	}

	out := &Response{
		StatusCode: status,
		Header:     resp.Header(),
		Body:       resp.Body(),
	}
	if status < 200 || status >= 300 {
		return out, &APIError{StatusCode: status, Message: decodeErrorMessage(out.Body)}
	}
	return out, nil
}

// DoJSON sends req and decodes a 2xx JSON body into out.
func (g *Gateway) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := g.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

// expireSession is the single teardown path for a rejected credential.
func (g *Gateway) expireSession(ctx context.Context, req Request, status int) {
	g.logger.Warn("Backend rejected credential, ending session",
		"method", req.Method,
		"path", req.Path,
		"status", status,
	)
	if g.creds != nil {
		// The request context may already be cancelled; teardown must still run.
		if err := g.creds.Clear(context.WithoutCancel(ctx)); err != nil {
			g.logger.Error("failed to clear credential state", "error", err)
		}
	}
	g.nav.RedirectToLogin(g.loginPath)
}

// decodeErrorMessage extracts {message} (or {error}) from an error body and
// never fails.
func decodeErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return GenericServerError
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.Error != "":
		return payload.Error
	default:
		return GenericServerError
	}
}
