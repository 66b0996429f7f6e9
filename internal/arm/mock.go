package arm

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MockTransport answers ARM requests with canned data so the relay can run
// without an Azure tenant. Requests without a bearer credential get the same
// 401 error body ARM returns.
type MockTransport struct {
	Now func() time.Time
}

func NewMockTransport() *MockTransport {
	return &MockTransport{Now: time.Now}
}

const (
	MockSubscriptionID   = "00000000-0000-0000-0000-000000000001"
	MockSubscriptionName = "Sample Subscription"
)

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_ = req.Body.Close()
	}

	if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
		return m.respond(req, http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"code":    "AuthenticationFailed",
				"message": "Authentication failed. The 'Authorization' header is missing.",
			},
		})
	}

	path := req.URL.Path
	switch {
	case req.Method == http.MethodGet && path == "/subscriptions":
		return m.respond(req, http.StatusOK, map[string]any{
			"value": []map[string]any{
				{
					"id":             "/subscriptions/" + MockSubscriptionID,
					"subscriptionId": MockSubscriptionID,
					"displayName":    MockSubscriptionName,
					"state":          "Enabled",
				},
			},
		})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/"+costQueryPath):
		return m.respond(req, http.StatusOK, m.costResult(!strings.HasPrefix(path, "/subscriptions/")))
	default:
		return m.respond(req, http.StatusNotFound, map[string]any{
			"error": map[string]string{
				"code":    "NotFound",
				"message": "The requested resource is not available in mock mode.",
			},
		})
	}
}

func (m *MockTransport) costResult(tenant bool) map[string]any {
	now := m.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	columns := []map[string]string{
		{"name": "PreTaxCost", "type": "Number"},
		{"name": "UsageDate", "type": "Number"},
	}
	if tenant {
		columns = append(columns, map[string]string{"name": "SubscriptionName", "type": "String"})
	}
	columns = append(columns, map[string]string{"name": "Currency", "type": "String"})

	amounts := []float64{20.5, 15.8}
	rows := make([][]any, 0, len(amounts))
	for i, amount := range amounts {
		day := first.AddDate(0, 0, i)
		usageDate, _ := strconv.Atoi(day.Format("20060102"))
		row := []any{amount, usageDate}
		if tenant {
			row = append(row, MockSubscriptionName)
		}
		rows = append(rows, append(row, "USD"))
	}

	return map[string]any{
		"id":   "mock-query",
		"name": "mock-query",
		"type": "Microsoft.CostManagement/query",
		"properties": map[string]any{
			"nextLink": nil,
			"columns":  columns,
			"rows":     rows,
		},
	}
}

func (m *MockTransport) respond(req *http.Request, status int, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode:    status,
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}, nil
}
