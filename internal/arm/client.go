package arm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/vnmchuo/billing-relay/internal/auth"
)

const maxResponseBytes = 32 << 20

// Client issues single, unretried requests to Azure Resource Manager on behalf
// of a caller.
type Client struct {
	baseURL   string
	transport http.RoundTripper
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func NewClient(baseURL string, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL:   baseURL,
		transport: transport,
	}
}

// Do performs q with the caller's token. Any HTTP status yields a Response;
// an error means no usable response was received.
func (c *Client) Do(ctx context.Context, q *Query, token auth.Token, subscriptionID string) (*Response, error) {
	url, err := q.URL(c.baseURL, subscriptionID)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if q.Body != nil {
		payload, err := json.Marshal(q.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s query: %w", q.Name, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, q.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", q.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(token).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", q.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", q.Name, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// httpClient attaches the caller's credential. The client lives for one
// request only.
func (c *Client) httpClient(token auth.Token) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: token.Value(),
				TokenType:   "Bearer",
			}),
			Base: c.transport,
		},
	}
}
