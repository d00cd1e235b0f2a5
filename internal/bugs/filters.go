package bugs

import (
	"sort"
	"strings"
)

// Filter narrows a bug listing. Zero values mean "no constraint".
type Filter struct {
	Search     string
	Statuses   []Status
	Severities []Severity
	AssignedTo string
	Platform   string
	GameArea   string
}

// SortField names a sortable bug attribute.
type SortField string

const (
	SortByCreatedAt SortField = "createdAt"
	SortByUpdatedAt SortField = "updatedAt"
	SortByTitle     SortField = "title"
	SortBySeverity  SortField = "severity"
	SortByStatus    SortField = "status"
)

// Sort describes the listing order. The zero value sorts newest first.
type Sort struct {
	Field SortField
	Asc   bool
}

// Apply runs the filter predicates and the comparator over bugs, returning a
// new slice. The input is never mutated.
func Apply(in []Bug, filter Filter, order Sort) []Bug {
	out := make([]Bug, 0, len(in))
	for _, bug := range in {
		if matches(bug, filter) {
			out = append(out, bug)
		}
	}
	sortBugs(out, order)
	return out
}

func matches(bug Bug, f Filter) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(bug.Title), needle) &&
			!strings.Contains(strings.ToLower(bug.Description), needle) {
			return false
		}
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, bug.Status) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, bug.Severity) {
		return false
	}
	if f.AssignedTo != "" && bug.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Platform != "" && bug.Platform != f.Platform {
		return false
	}
	if f.GameArea != "" && bug.GameArea != f.GameArea {
		return false
	}
	return true
}

func sortBugs(bugs []Bug, order Sort) {
	field := order.Field
	if field == "" {
		field = SortByCreatedAt
	}
	sort.SliceStable(bugs, func(i, j int) bool {
		a, b := bugs[i], bugs[j]
		if !order.Asc {
			a, b = b, a
		}
		switch field {
		case SortByUpdatedAt:
			return a.UpdatedAt.Before(b.UpdatedAt)
		case SortByTitle:
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case SortBySeverity:
			return a.Severity.rank() < b.Severity.rank()
		case SortByStatus:
			return a.Status.rank() < b.Status.rank()
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []Severity, s Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
