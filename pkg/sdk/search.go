package sdk

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-bexpr"
)

// evaluatorCache holds compiled filter expressions keyed by their source.
var evaluatorCache = &sync.Map{}

// DateField selects which resource timestamp a date search looks at.
type DateField string

const (
	DateCreated  DateField = "created"
	DateModified DateField = "modified"
)

// SearchResources lists resources and keeps those matching expr, a boolean
// filter expression over name, username, uri, folder_parent_id, created_by and
// modified_by. Example: `name matches "(?i)^prod" and username != ""`.
func (c *ResourceClient) SearchResources(ctx context.Context, s *Session, expr string) ([]Resource, error) {
	resources, err := c.ListResources(ctx, s)
	if err != nil {
		return nil, err
	}
	return FilterResources(resources, expr)
}

// SearchResourcesByName returns resources whose name contains name, ignoring case.
func (c *ResourceClient) SearchResourcesByName(ctx context.Context, s *Session, name string) ([]Resource, error) {
	return c.SearchResources(ctx, s, NameExpression(name))
}

// SearchResourcesByDate returns resources whose field falls within [from, to].
// A zero bound leaves that side open.
func (c *ResourceClient) SearchResourcesByDate(ctx context.Context, s *Session, field DateField, from, to time.Time) ([]Resource, error) {
	resources, err := c.ListResources(ctx, s)
	if err != nil {
		return nil, err
	}
	return FilterResourcesByDate(resources, field, from, to)
}

// NameExpression builds a case-insensitive substring filter on the resource name.
func NameExpression(name string) string {
	return "name matches " + strconv.Quote("(?i)"+regexp.QuoteMeta(name))
}

// FilterResources keeps the resources matching expr. An empty expression keeps
// everything.
func FilterResources(resources []Resource, expr string) ([]Resource, error) {
	if strings.TrimSpace(expr) == "" {
		return resources, nil
	}

	evaluator, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}

	matched := make([]Resource, 0, len(resources))
	for _, r := range resources {
		ok, err := evaluator.Evaluate(resourceFields(r))
		if err != nil {
			// Evaluation errors only arise for selectors the fields map lacks.
			return nil, fmt.Errorf("evaluate filter %q: %w", expr, err)
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// FilterResourcesByDate keeps resources whose field lies within [from, to].
func FilterResourcesByDate(resources []Resource, field DateField, from, to time.Time) ([]Resource, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("date range end %s is before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	matched := make([]Resource, 0, len(resources))
	for _, r := range resources {
		var ts time.Time
		switch field {
		case DateCreated:
			ts = r.Created
		case DateModified:
			ts = r.Modified
		default:
			return nil, fmt.Errorf("unknown date field %q", field)
		}
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		matched = append(matched, r)
	}
	return matched, nil
}

func compileFilter(expr string) (*bexpr.Evaluator, error) {
	if cached, ok := evaluatorCache.Load(expr); ok {
		return cached.(*bexpr.Evaluator), nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
	}
	evaluatorCache.Store(expr, evaluator)
	return evaluator, nil
}

func resourceFields(r Resource) map[string]any {
	return map[string]any{
		"id":               r.ID,
		"name":             r.Name,
		"username":         r.Username,
		"uri":              r.URI,
		"folder_parent_id": r.FolderParentID,
		"created_by":       r.CreatedBy,
		"modified_by":      r.ModifiedBy,
	}
}
