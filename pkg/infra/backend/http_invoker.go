package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/getsluice/sluice/pkg/types"
)

const (
	defaultTimeout             = 30 * time.Second
	defaultMaxConnsPerHost     = 512
	defaultMaxIdleConnDuration = 10 * time.Second
	defaultReadBufferSize      = 4096
	defaultWriteBufferSize     = 4096
)

// HTTPInvoker forwards admitted requests to the protected service over HTTP.
type HTTPInvoker struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
}

func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPInvoker{
		client: &fasthttp.Client{
			MaxConnsPerHost:               defaultMaxConnsPerHost,
			MaxIdleConnDuration:           defaultMaxIdleConnDuration,
			ReadBufferSize:                defaultReadBufferSize,
			WriteBufferSize:               defaultWriteBufferSize,
			ReadTimeout:                   timeout,
			WriteTimeout:                  timeout,
			DisableHeaderNamesNormalizing: false,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, r *types.AdmissionRequest) (*types.BackendResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req.Header.SetMethod(method)
	req.SetRequestURI(i.baseURL + "/" + strings.TrimLeft(r.Route, "/"))

	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	if len(r.Body) > 0 {
		body, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode backend request body: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := i.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := i.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("backend call failed: %w", err)
	}

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("backend returned status %d", status)
	}

	return &types.BackendResponse{StatusCode: status, Body: body}, nil
}
