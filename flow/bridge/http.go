package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// HTTPTransport delivers bridge messages over HTTP POST.
//
// The encoded request is sent as the body with Content-Type
// application/json plus any configured headers; the response body is the
// encoded bridge response. Any non-2xx status is a transport failure.
//
// Timeouts ride on the call context, not the client.
type HTTPTransport struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// NewHTTPTransport creates a transport posting to url with the given
// extra headers. headers may be nil.
func NewHTTPTransport(url string, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		client:  &http.Client{},
		url:     url,
		headers: headers,
	}
}

// Key implements Transport. The key covers the target URL and the header
// set, so two transports differing in either never share cached responses.
func (t *HTTPTransport) Key() string {
	keys := make([]string, 0, len(t.headers))
	for k := range t.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteString("http:")
	b.WriteString(t.url)
	for _, k := range keys {
		b.WriteByte('\x00')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(t.headers[k])
	}
	return b.String()
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, id int32, req []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	return body, nil
}
