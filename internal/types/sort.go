package types

import (
	"cmp"
	"slices"
	"strings"
)

// SortField names an orderable item field.
type SortField string

// Sortable fields
const (
	SortFieldPriority SortField = "priority"
	SortFieldCreated  SortField = "created"
	SortFieldUpdated  SortField = "updated"
	SortFieldTitle    SortField = "title"
)

// SortDirection is ascending or descending.
type SortDirection string

// Sort directions
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortOption is one key of a composite ordering.
type SortOption struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSortOptions returns the scheduling order: priority ascending, then
// insertion order.
func DefaultSortOptions() []SortOption {
	return []SortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldCreated, Direction: SortAsc},
	}
}

// ParseSortOrder converts a comma-delimited string (e.g. "priority-asc,title-desc")
// into sort options. Unrecognised fields or directions are skipped.
func ParseSortOrder(raw string) []SortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]SortOption, 0, len(parts))
	seen := make(map[SortField]bool)

	for _, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		field, dir, found := strings.Cut(token, "-")
		if !found {
			dir = string(SortAsc)
		}
		f := mapSortField(field)
		d := mapSortDirection(dir)
		if f == "" || d == "" || seen[f] {
			continue
		}
		seen[f] = true
		options = append(options, SortOption{Field: f, Direction: d})
	}
	return options
}

// EncodeSortOrder is the inverse of ParseSortOrder.
func EncodeSortOrder(options []SortOption) string {
	tokens := make([]string, 0, len(options))
	for _, opt := range options {
		tokens = append(tokens, string(opt.Field)+"-"+string(opt.Direction))
	}
	return strings.Join(tokens, ",")
}

// SortItems orders items in place. Seq is always the final tiebreaker so the
// result is deterministic.
func SortItems(items []*WorkItem, options []SortOption) {
	if len(options) == 0 {
		options = DefaultSortOptions()
	}
	slices.SortStableFunc(items, func(a, b *WorkItem) int {
		for _, opt := range options {
			c := compareField(a, b, opt.Field)
			if opt.Direction == SortDesc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func compareField(a, b *WorkItem, field SortField) int {
	switch field {
	case SortFieldPriority:
		return cmp.Compare(a.Priority, b.Priority)
	case SortFieldCreated:
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	case SortFieldUpdated:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortFieldTitle:
		return strings.Compare(a.Title, b.Title)
	}
	return 0
}

func mapSortField(raw string) SortField {
	switch raw {
	case "updated", "updated_at":
		return SortFieldUpdated
	case "created", "created_at":
		return SortFieldCreated
	case "priority":
		return SortFieldPriority
	case "title":
		return SortFieldTitle
	default:
		return ""
	}
}

func mapSortDirection(raw string) SortDirection {
	switch raw {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	default:
		return ""
	}
}
