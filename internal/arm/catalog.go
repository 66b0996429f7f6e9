package arm

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps a query name to its variant.
type Catalog map[string]*Query

// Get returns the named variant.
func (c Catalog) Get(name string) (*Query, error) {
	q, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unknown query %q", name)
	}
	return q, nil
}

// catalogFile is the YAML layout accepted by LoadCatalog:
//
//	queries:
//	  - name: tenant-cost-by-resource-group
//	    scope: tenant
//	    grouping:
//	      - {type: Dimension, name: ResourceGroupName}
type catalogFile struct {
	Queries []catalogEntry `yaml:"queries"`
}

type catalogEntry struct {
	Name        string     `yaml:"name"`
	Method      string     `yaml:"method"`
	Scope       Scope      `yaml:"scope"`
	APIVersion  string     `yaml:"apiVersion"`
	Shape       Shape      `yaml:"shape"`
	Type        string     `yaml:"type"`
	Timeframe   string     `yaml:"timeframe"`
	Granularity string     `yaml:"granularity"`
	Grouping    []Grouping `yaml:"grouping"`
}

// LoadCatalog returns the default catalog, with entries from the YAML file at
// path replacing or extending it. An empty path yields the defaults.
func LoadCatalog(path, costType string) (Catalog, error) {
	catalog := DefaultCatalog(costType)
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse query catalog %s: %w", path, err)
	}

	for i, e := range file.Queries {
		q, err := e.toQuery(costType)
		if err != nil {
			return nil, fmt.Errorf("query catalog entry %d: %w", i, err)
		}
		catalog[q.Name] = q
	}

	return catalog, nil
}

func (e catalogEntry) toQuery(costType string) (*Query, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	q := &Query{
		Name:       name,
		Method:     strings.ToUpper(e.Method),
		Scope:      e.Scope,
		APIVersion: e.APIVersion,
		Shape:      e.Shape,
	}

	switch q.Scope {
	case ScopeSubscriptions:
		if q.Method == "" {
			q.Method = http.MethodGet
		}
		if q.APIVersion == "" {
			q.APIVersion = SubscriptionsAPIVersion
		}
		if q.Shape == "" {
			q.Shape = ShapeSubscriptions
		}
	case ScopeSubscription, ScopeTenant:
		if q.Method == "" {
			q.Method = http.MethodPost
		}
		if q.APIVersion == "" {
			q.APIVersion = CostManagementAPIVersion
		}
		if q.Shape == "" {
			q.Shape = ShapePassthrough
		}
		body := MonthToDateCost(costType, e.Grouping...)
		if e.Type != "" {
			body.Type = e.Type
		}
		if e.Timeframe != "" {
			body.Timeframe = e.Timeframe
		}
		if e.Granularity != "" {
			body.Dataset.Granularity = e.Granularity
		}
		q.Body = body
	default:
		return nil, fmt.Errorf("query %s: unknown scope %q", name, e.Scope)
	}

	switch q.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("query %s: unsupported method %q", name, e.Method)
	}

	switch q.Shape {
	case ShapePassthrough, ShapeSubscriptions, ShapeDaily:
	default:
		return nil, fmt.Errorf("query %s: unknown shape %q", name, e.Shape)
	}
	if q.Shape == ShapeSubscriptions && q.Scope != ScopeSubscriptions {
		return nil, fmt.Errorf("query %s: shape %q needs scope %q", name, q.Shape, ScopeSubscriptions)
	}
	if q.Scope == ScopeSubscriptions && q.Shape != ShapeSubscriptions && q.Shape != ShapePassthrough {
		return nil, fmt.Errorf("query %s: shape %q cannot apply to a subscription list", name, q.Shape)
	}

	return q, nil
}
