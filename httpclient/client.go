package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// transientNetworkError reports whether err looks like a connection-level
// failure the spec names explicitly: reset, DNS failure, refused, hangup.
func transientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Execute performs req, retrying transient failures with exponential
// backoff (base req.RetryInterval, up to req.RetryCount retries after the
// first attempt).
// 4xx responses are returned immediately without retry; 5xx and transient
// network errors are retried; a caller-supplied IsRetryable hook can widen
// that classification (used for GitHub's 202 "recomputing stats").
func Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if req.Method == "" {
		return nil, fmt.Errorf("httpclient: method is required")
	}
	if req.URL == "" {
		return nil, fmt.Errorf("httpclient: URL is required")
	}

	attempts := req.RetryCount + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := executeOnce(ctx, req)
		if err == nil {
			if resp.IsClientError() {
				resp.Duration = time.Since(start)
				return resp, nil
			}
			if resp.IsServerError() || (req.IsRetryable != nil && req.IsRetryable(resp)) {
				lastErr = fmt.Errorf("httpclient: retryable status %d", resp.StatusCode)
				if attempt < attempts-1 {
					sleep(ctx, calculateBackoff(attempt, req.RetryBackoff, req.RetryInterval))
					continue
				}
				resp.Duration = time.Since(start)
				return resp, lastErr
			}
			resp.Duration = time.Since(start)
			return resp, nil
		}

		lastErr = err
		if !transientNetworkError(err) {
			return nil, err
		}
		if attempt < attempts-1 {
			sleep(ctx, calculateBackoff(attempt, req.RetryBackoff, req.RetryInterval))
		}
	}

	return nil, fmt.Errorf("httpclient: request failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func executeOnce(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	contentType := ""
	if req.JSONBody != "" {
		body = strings.NewReader(req.JSONBody)
		contentType = "application/json"
	} else if req.RawBody != nil {
		body = bytes.NewReader(req.RawBody)
		contentType = "application/octet-stream"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	transport := &http.Transport{}
	if req.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if req.Proxy != "" {
		proxyURL, perr := url.Parse(req.Proxy)
		if perr != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy URL: %w", perr)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   req.Timeout,
		Transport: transport,
	}
	if !req.FollowRedirect {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if req.MaxRedirects > 0 {
		max := req.MaxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= max {
				return fmt.Errorf("httpclient: stopped after %d redirects", max)
			}
			return nil
		}
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: reading response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    make(map[string]string, len(httpResp.Header)),
		Body:       respBody,
		BodyString: string(respBody),
	}
	for k, v := range httpResp.Header {
		if len(v) > 0 {
			resp.Headers[k] = v[0]
		}
	}
	return resp, nil
}

func calculateBackoff(attempt int, strategy string, initial time.Duration) time.Duration {
	if strategy == "linear" {
		return initial * time.Duration(attempt+1)
	}
	return initial * time.Duration(uint(1)<<uint(attempt))
}
