package relay

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/billing-relay/internal/arm"
)

// Subscription is the reduced view of an ARM subscription.
type Subscription struct {
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
}

type SubscriptionList struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// NoCostData replaces an empty cost result.
type NoCostData struct {
	Message    string         `json:"message"`
	Properties map[string]any `json:"properties"`
}

type DailyCost struct {
	Date string  `json:"date"`
	Cost float64 `json:"cost"`
}

type DailyCostSeries struct {
	Currency string      `json:"currency,omitempty"`
	Days     []DailyCost `json:"days"`
	Total    float64     `json:"total"`
}

type armSubscription struct {
	SubscriptionID *string `json:"subscriptionId"`
	DisplayName    *string `json:"displayName"`
}

type armSubscriptionList struct {
	Value []armSubscription `json:"value"`
}

func shapeSubscriptions(body []byte) *Result {
	var list armSubscriptionList
	if err := json.Unmarshal(body, &list); err != nil {
		return malformed(err)
	}

	for i, s := range list.Value {
		if s.SubscriptionID == nil {
			return internalError(fmt.Errorf("subscription entry %d is missing subscriptionId", i))
		}
		if s.DisplayName == nil {
			return internalError(fmt.Errorf("subscription entry %d is missing displayName", i))
		}
	}

	subs := lo.Map(list.Value, func(s armSubscription, _ int) Subscription {
		return Subscription{SubscriptionID: *s.SubscriptionID, DisplayName: *s.DisplayName}
	})

	return success(SubscriptionList{Subscriptions: subs})
}

// costProperties returns the "properties" object of a cost query result and
// its rows. Missing properties or rows read as empty.
func costProperties(body []byte) (map[string]any, []any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, err
	}
	if payload == nil {
		return nil, nil, fmt.Errorf("cost result is not a JSON object")
	}

	props, _ := payload["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	rows, _ := props["rows"].([]any)
	return props, rows, nil
}

func noCostData(props map[string]any) *Result {
	return &Result{
		Status:  http.StatusOK,
		Outcome: OutcomeEmptyResult,
		Body:    NoCostData{Message: NoCostDataMessage, Properties: props},
	}
}

func shapePassthrough(logger zerolog.Logger, q *arm.Query, body []byte) *Result {
	if q.Scope == arm.ScopeSubscriptions {
		if !json.Valid(body) {
			return malformed(fmt.Errorf("subscription list is not valid JSON"))
		}
		return &Result{Status: http.StatusOK, Outcome: OutcomeSuccess, Raw: body}
	}

	props, rows, err := costProperties(body)
	if err != nil {
		return malformed(err)
	}
	if len(rows) == 0 {
		logger.Info().Msg("no cost data found for current timeframe")
		return noCostData(props)
	}

	logger.Info().Int("rows", len(rows)).Msg("received billing records from azure api")
	return &Result{Status: http.StatusOK, Outcome: OutcomeSuccess, Raw: body}
}

// shapeDaily folds cost rows into one amount per usage date.
func shapeDaily(logger zerolog.Logger, body []byte) *Result {
	props, rows, err := costProperties(body)
	if err != nil {
		return malformed(err)
	}
	if len(rows) == 0 {
		logger.Info().Msg("no cost data found for current timeframe")
		return noCostData(props)
	}

	columns, _ := props["columns"].([]any)
	names := lo.Map(columns, func(c any, _ int) string {
		col, _ := c.(map[string]any)
		name, _ := col["name"].(string)
		return name
	})

	dateIdx := lo.IndexOf(names, "UsageDate")
	if dateIdx < 0 {
		return internalError(fmt.Errorf("cost result has no UsageDate column"))
	}
	costIdx := lo.IndexOf(names, "PreTaxCost")
	if costIdx < 0 {
		costIdx = lo.IndexOf(names, "Cost")
	}
	if costIdx < 0 {
		return internalError(fmt.Errorf("cost result has no PreTaxCost column"))
	}
	currencyIdx := lo.IndexOf(names, "Currency")

	totals := map[string]decimal.Decimal{}
	currency := ""
	for i, r := range rows {
		row, ok := r.([]any)
		if !ok || len(row) <= dateIdx || len(row) <= costIdx {
			return internalError(fmt.Errorf("cost row %d is malformed", i))
		}

		date, err := usageDate(row[dateIdx])
		if err != nil {
			return internalError(fmt.Errorf("cost row %d: %w", i, err))
		}
		amount, err := costAmount(row[costIdx])
		if err != nil {
			return internalError(fmt.Errorf("cost row %d: %w", i, err))
		}
		if currencyIdx >= 0 && currencyIdx < len(row) && currency == "" {
			currency, _ = row[currencyIdx].(string)
		}

		totals[date] = totals[date].Add(amount)
	}

	dates := lo.Keys(totals)
	slices.Sort(dates)

	total := decimal.Zero
	days := lo.Map(dates, func(d string, _ int) DailyCost {
		total = total.Add(totals[d])
		return DailyCost{Date: d, Cost: totals[d].InexactFloat64()}
	})

	logger.Info().Int("rows", len(rows)).Int("days", len(days)).Msg("folded billing records into daily series")
	return success(DailyCostSeries{Currency: currency, Days: days, Total: total.InexactFloat64()})
}

// usageDate accepts the numeric yyyymmdd form Cost Management returns as well
// as yyyymmdd and yyyy-mm-dd strings.
func usageDate(v any) (string, error) {
	var raw string
	switch t := v.(type) {
	case float64:
		raw = strconv.FormatFloat(t, 'f', 0, 64)
	case string:
		raw = t
	default:
		return "", fmt.Errorf("unsupported UsageDate value %v", v)
	}

	for _, layout := range []string{"20060102", "2006-01-02", time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable UsageDate %q", raw)
}

func costAmount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(t)
	case nil:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported cost value %v", v)
	}
}
