package records

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	TagManufacturer = "manufacturer"
	TagPartNumber   = "part_number"

	// summaryTop caps each tag breakdown in a Summary.
	summaryTop = 10
)

// Filter narrows a record listing. TagValue matches case-insensitively as a
// substring of the tag named by TagKey, which defaults to manufacturer.
type Filter struct {
	TagKey   string
	TagValue string
	Status   Status
	Page     int
	PageSize int
}

// Normalize fills the defaults and clamps the page bounds.
func (f Filter) Normalize() Filter {
	if f.TagKey == "" {
		f.TagKey = TagManufacturer
	}
	f.TagValue = strings.TrimSpace(f.TagValue)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Match reports whether r passes the tag and status conditions.
func (f Filter) Match(r *AnalysisRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.TagValue == "" {
		return true
	}
	key := f.TagKey
	if key == "" {
		key = TagManufacturer
	}
	return strings.Contains(strings.ToLower(r.Tags[key]), strings.ToLower(f.TagValue))
}

// PaginatedResult represents a paginated response with data and metadata
type PaginatedResult struct {
	Data       []*AnalysisRecord `json:"data"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	Total      int64             `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
}

// Paginate filters list, which keeps its order, and cuts the requested page.
// A page past the end yields an empty Data slice.
func Paginate(list []*AnalysisRecord, f Filter) PaginatedResult {
	f = f.Normalize()
	matched := make([]*AnalysisRecord, 0, len(list))
	for _, r := range list {
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	res := PaginatedResult{
		Data:       []*AnalysisRecord{},
		Page:       f.Page,
		PageSize:   f.PageSize,
		Total:      int64(len(matched)),
		TotalPages: (len(matched) + f.PageSize - 1) / f.PageSize,
	}
	start := (f.Page - 1) * f.PageSize
	if start >= len(matched) {
		return res
	}
	end := min(start+f.PageSize, len(matched))
	res.Data = matched[start:end]
	return res
}

// TagCount is one row of a tag breakdown.
type TagCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Summary aggregates the record set.
type Summary struct {
	Total          int            `json:"total"`
	ByStatus       map[Status]int `json:"by_status"`
	ByManufacturer []TagCount     `json:"by_manufacturer"`
	ByPartNumber   []TagCount     `json:"by_part_number"`
	LatestAt       *time.Time     `json:"latest_at,omitempty"`
}

// Summarize counts records by status and by manufacturer and part number
// tags. Tag breakdowns keep the ten most frequent values, ties by value.
// LatestAt is the newest creation time.
func Summarize(list []*AnalysisRecord) Summary {
	s := Summary{
		Total: len(list),
		ByStatus: map[Status]int{
			StatusPending:    0,
			StatusProcessing: 0,
			StatusFinished:   0,
			StatusFailed:     0,
		},
	}
	makers := map[string]int{}
	parts := map[string]int{}
	for _, r := range list {
		s.ByStatus[r.Status]++
		if v := strings.TrimSpace(r.Tags[TagManufacturer]); v != "" {
			makers[v]++
		}
		if v := strings.TrimSpace(r.Tags[TagPartNumber]); v != "" {
			parts[v]++
		}
		if s.LatestAt == nil || r.CreatedAt.After(*s.LatestAt) {
			at := r.CreatedAt
			s.LatestAt = &at
		}
	}
	s.ByManufacturer = topCounts(makers)
	s.ByPartNumber = topCounts(parts)
	return s
}

func topCounts(m map[string]int) []TagCount {
	out := make([]TagCount, 0, len(m))
	for v, n := range m {
		out = append(out, TagCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > summaryTop {
		out = out[:summaryTop]
	}
	return out
}
