package arm

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryURL(t *testing.T) {
	catalog := DefaultCatalog("ActualCost")
	base := "https://management.azure.com/"

	tests := []struct {
		name  string
		query string
		sub   string
		want  string
	}{
		{
			name:  "subscription list",
			query: QuerySubscriptions,
			want:  "https://management.azure.com/subscriptions?api-version=2020-01-01",
		},
		{
			name:  "subscription cost",
			query: QuerySubscriptionCost,
			sub:   "c02d2716-78ec-4e2c-8623-f2fe6b6f51cd",
			want:  "https://management.azure.com/subscriptions/c02d2716-78ec-4e2c-8623-f2fe6b6f51cd/providers/Microsoft.CostManagement/query?api-version=2023-03-01",
		},
		{
			name:  "tenant cost ignores subscription",
			query: QueryTenantCost,
			sub:   "c02d2716-78ec-4e2c-8623-f2fe6b6f51cd",
			want:  "https://management.azure.com/providers/Microsoft.CostManagement/query?api-version=2023-03-01",
		},
		{
			name:  "subscription id is escaped",
			query: QuerySubscriptionCost,
			sub:   "a/b",
			want:  "https://management.azure.com/subscriptions/a%2Fb/providers/Microsoft.CostManagement/query?api-version=2023-03-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := catalog[tt.query].URL(base, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryURL_Errors(t *testing.T) {
	_, err := DefaultCatalog("ActualCost")[QuerySubscriptionCost].URL("https://management.azure.com", "")
	assert.Error(t, err)

	q := &Query{Name: "bogus", Scope: "management-group"}
	_, err = q.URL("https://management.azure.com", "")
	assert.Error(t, err)
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog("Usage")

	assert.Len(t, catalog, 4)
	assert.Nil(t, catalog[QuerySubscriptions].Body)
	assert.Equal(t, http.MethodGet, catalog[QuerySubscriptions].Method)

	for _, name := range []string{QuerySubscriptionCost, QueryTenantCost, QueryDailyCost} {
		q := catalog[name]
		require.NotNil(t, q.Body, name)
		assert.Equal(t, http.MethodPost, q.Method)
		assert.Equal(t, "Usage", q.Body.Type)
		assert.Equal(t, "MonthToDate", q.Body.Timeframe)
		assert.Equal(t, "Daily", q.Body.Dataset.Granularity)
		assert.Equal(t, Aggregation{Name: "PreTaxCost", Function: "Sum"}, q.Body.Dataset.Aggregation["totalCost"])
	}

	assert.Empty(t, catalog[QuerySubscriptionCost].Body.Dataset.Grouping)
	assert.Equal(t, []Grouping{{Type: "Dimension", Name: "SubscriptionName"}}, catalog[QueryTenantCost].Body.Dataset.Grouping)
	assert.Equal(t, ShapeDaily, catalog[QueryDailyCost].Shape)
	assert.True(t, catalog[QueryDailyCost].NeedsSubscription())
	assert.False(t, catalog[QueryTenantCost].NeedsSubscription())

	_, err := catalog.Get("nope")
	assert.Error(t, err)
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
queries:
  - name: tenant-cost-by-resource-group
    scope: tenant
    grouping:
      - {type: Dimension, name: ResourceGroupName}
  - name: subscription-cost
    scope: subscription
    type: Usage
    timeframe: BillingMonthToDate
  - name: subscriptions-raw
    scope: subscriptions
    shape: passthrough
`)

	catalog, err := LoadCatalog(path, "ActualCost")
	require.NoError(t, err)

	rg := catalog["tenant-cost-by-resource-group"]
	require.NotNil(t, rg)
	assert.Equal(t, http.MethodPost, rg.Method)
	assert.Equal(t, CostManagementAPIVersion, rg.APIVersion)
	assert.Equal(t, ShapePassthrough, rg.Shape)
	assert.Equal(t, "ActualCost", rg.Body.Type)
	assert.Equal(t, []Grouping{{Type: "Dimension", Name: "ResourceGroupName"}}, rg.Body.Dataset.Grouping)

	sc := catalog[QuerySubscriptionCost]
	assert.Equal(t, "Usage", sc.Body.Type)
	assert.Equal(t, "BillingMonthToDate", sc.Body.Timeframe)

	raw := catalog["subscriptions-raw"]
	assert.Equal(t, http.MethodGet, raw.Method)
	assert.Nil(t, raw.Body)

	// untouched defaults survive
	assert.NotNil(t, catalog[QueryTenantCost])
}

func TestLoadCatalog_Empty(t *testing.T) {
	catalog, err := LoadCatalog("", "ActualCost")
	require.NoError(t, err)
	assert.Len(t, catalog, 4)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing name":     "queries:\n  - scope: tenant\n",
		"unknown scope":    "queries:\n  - name: x\n    scope: management-group\n",
		"bad method":       "queries:\n  - name: x\n    scope: tenant\n    method: DELETE\n",
		"bad shape":        "queries:\n  - name: x\n    scope: tenant\n    shape: pivot\n",
		"shape mismatch":   "queries:\n  - name: x\n    scope: tenant\n    shape: subscriptions\n",
		"daily on listing": "queries:\n  - name: x\n    scope: subscriptions\n    shape: daily\n",
		"not yaml":         "queries: [",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, content), "ActualCost")
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"), "ActualCost")
	assert.Error(t, err)
}

func TestMockTransport(t *testing.T) {
	mock := NewMockTransport()
	mock.Now = func() time.Time { return time.Date(2025, time.September, 17, 0, 0, 0, 0, time.UTC) }
	client := NewClient("https://management.azure.com", mock)
	catalog := DefaultCatalog("ActualCost")

	resp, err := client.Do(t.Context(), catalog[QuerySubscriptions], "abc123", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), MockSubscriptionID)

	resp, err = client.Do(t.Context(), catalog[QuerySubscriptionCost], "abc123", MockSubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "20250901")
	assert.NotContains(t, string(resp.Body), "SubscriptionName")

	resp, err = client.Do(t.Context(), catalog[QueryTenantCost], "abc123", "")
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "SubscriptionName")
}

func TestMockTransport_Unauthorized(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://management.azure.com/subscriptions", nil)
	require.NoError(t, err)

	resp, err := NewMockTransport().RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
