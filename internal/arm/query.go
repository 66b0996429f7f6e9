package arm

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Scope selects the ARM resource a query is issued against.
type Scope string

const (
	ScopeSubscriptions Scope = "subscriptions" // list subscriptions visible to the caller
	ScopeSubscription  Scope = "subscription"  // cost query on one subscription
	ScopeTenant        Scope = "tenant"        // cost query across the tenant
)

// Shape selects how a successful upstream body is returned to the caller.
type Shape string

const (
	ShapePassthrough   Shape = "passthrough"
	ShapeSubscriptions Shape = "subscriptions"
	ShapeDaily         Shape = "daily"
)

const (
	SubscriptionsAPIVersion  = "2020-01-01"
	CostManagementAPIVersion = "2023-03-01"

	costQueryPath = "providers/Microsoft.CostManagement/query"
)

// Names of the built-in query variants.
const (
	QuerySubscriptions    = "subscriptions"
	QuerySubscriptionCost = "subscription-cost"
	QueryTenantCost       = "tenant-cost"
	QueryDailyCost        = "daily-cost"
)

// Query describes one upstream call. Values are built once at startup and
// shared read-only between requests.
type Query struct {
	Name       string
	Method     string
	Scope      Scope
	APIVersion string
	Body       *CostQuery
	Shape      Shape
}

// CostQuery is the request body of the Cost Management query API.
type CostQuery struct {
	Type      string  `json:"type"`
	Timeframe string  `json:"timeframe"`
	Dataset   Dataset `json:"dataset"`
}

type Dataset struct {
	Granularity string                 `json:"granularity"`
	Aggregation map[string]Aggregation `json:"aggregation"`
	Grouping    []Grouping             `json:"grouping,omitempty"`
}

type Aggregation struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type Grouping struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// MonthToDateCost is the daily pre-tax cost query used by every cost variant.
func MonthToDateCost(costType string, grouping ...Grouping) *CostQuery {
	return &CostQuery{
		Type:      costType,
		Timeframe: "MonthToDate",
		Dataset: Dataset{
			Granularity: "Daily",
			Aggregation: map[string]Aggregation{
				"totalCost": {Name: "PreTaxCost", Function: "Sum"},
			},
			Grouping: grouping,
		},
	}
}

// NeedsSubscription reports whether URL requires a subscription id.
func (q *Query) NeedsSubscription() bool {
	return q.Scope == ScopeSubscription
}

// URL builds the absolute upstream URL for the query.
func (q *Query) URL(baseURL, subscriptionID string) (string, error) {
	base := strings.TrimRight(baseURL, "/")

	var path string
	switch q.Scope {
	case ScopeSubscriptions:
		path = "/subscriptions"
	case ScopeSubscription:
		if subscriptionID == "" {
			return "", fmt.Errorf("query %s requires a subscription id", q.Name)
		}
		path = "/subscriptions/" + url.PathEscape(subscriptionID) + "/" + costQueryPath
	case ScopeTenant:
		path = "/" + costQueryPath
	default:
		return "", fmt.Errorf("query %s has unknown scope %q", q.Name, q.Scope)
	}

	return base + path + "?api-version=" + url.QueryEscape(q.APIVersion), nil
}

// DefaultCatalog returns the built-in query variants.
func DefaultCatalog(costType string) Catalog {
	return Catalog{
		QuerySubscriptions: {
			Name:       QuerySubscriptions,
			Method:     http.MethodGet,
			Scope:      ScopeSubscriptions,
			APIVersion: SubscriptionsAPIVersion,
			Shape:      ShapeSubscriptions,
		},
		QuerySubscriptionCost: {
			Name:       QuerySubscriptionCost,
			Method:     http.MethodPost,
			Scope:      ScopeSubscription,
			APIVersion: CostManagementAPIVersion,
			Body:       MonthToDateCost(costType),
			Shape:      ShapePassthrough,
		},
		QueryTenantCost: {
			Name:       QueryTenantCost,
			Method:     http.MethodPost,
			Scope:      ScopeTenant,
			APIVersion: CostManagementAPIVersion,
			Body:       MonthToDateCost(costType, Grouping{Type: "Dimension", Name: "SubscriptionName"}),
			Shape:      ShapePassthrough,
		},
		QueryDailyCost: {
			Name:       QueryDailyCost,
			Method:     http.MethodPost,
			Scope:      ScopeSubscription,
			APIVersion: CostManagementAPIVersion,
			Body:       MonthToDateCost(costType),
			Shape:      ShapeDaily,
		},
	}
}
