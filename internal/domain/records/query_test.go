package records

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var firstSeen = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample() []*AnalysisRecord {
	mk := func(i int, st Status, maker, part string) *AnalysisRecord {
		r := NewPending(fmt.Sprintf("/data/%d.pdf", i), firstSeen.Add(time.Duration(i)*time.Minute))
		r.Status = st
		if maker != "" {
			r.Tags[TagManufacturer] = maker
		}
		if part != "" {
			r.Tags[TagPartNumber] = part
		}
		return r
	}
	// newest first, as ListAll yields them
	return []*AnalysisRecord{
		mk(5, StatusPending, "", ""),
		mk(4, StatusFailed, "", ""),
		mk(3, StatusFinished, "STMicroelectronics", "L7805"),
		mk(2, StatusFinished, "Texas Instruments", "LM2596"),
		mk(1, StatusFinished, "Texas Instruments", "TPS5430"),
	}
}

func TestFilterNormalize(t *testing.T) {
	f := Filter{Page: -3, PageSize: 10_000, TagValue: "  ti "}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPageSize, f.PageSize)
	assert.Equal(t, TagManufacturer, f.TagKey)
	assert.Equal(t, "ti", f.TagValue)

	assert.Equal(t, DefaultPageSize, Filter{}.Normalize().PageSize)
}

func TestPaginate(t *testing.T) {
	list := sample()

	tests := []struct {
		name      string
		filter    Filter
		wantPaths []string
		wantTotal int64
		wantPages int
	}{
		{
			name:      "first page",
			filter:    Filter{Page: 1, PageSize: 2},
			wantPaths: []string{"/data/5.pdf", "/data/4.pdf"},
			wantTotal: 5,
			wantPages: 3,
		},
		{
			name:      "last partial page",
			filter:    Filter{Page: 3, PageSize: 2},
			wantPaths: []string{"/data/1.pdf"},
			wantTotal: 5,
			wantPages: 3,
		},
		{
			name:      "past the end",
			filter:    Filter{Page: 9, PageSize: 2},
			wantPaths: []string{},
			wantTotal: 5,
			wantPages: 3,
		},
		{
			name:      "manufacturer substring ignores case",
			filter:    Filter{TagValue: "texas"},
			wantPaths: []string{"/data/2.pdf", "/data/1.pdf"},
			wantTotal: 2,
			wantPages: 1,
		},
		{
			name:      "other tag key",
			filter:    Filter{TagKey: TagPartNumber, TagValue: "lm25"},
			wantPaths: []string{"/data/2.pdf"},
			wantTotal: 1,
			wantPages: 1,
		},
		{
			name:      "status",
			filter:    Filter{Status: StatusFinished, PageSize: 2, Page: 2},
			wantPaths: []string{"/data/1.pdf"},
			wantTotal: 3,
			wantPages: 2,
		},
		{
			name:      "no match",
			filter:    Filter{TagValue: "analog devices"},
			wantPaths: []string{},
			wantTotal: 0,
			wantPages: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Paginate(list, tt.filter)
			paths := []string{}
			for _, r := range res.Data {
				paths = append(paths, r.FilePath)
			}
			assert.Equal(t, tt.wantPaths, paths)
			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Equal(t, tt.wantPages, res.TotalPages)
			assert.NotNil(t, res.Data)
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sample())

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, map[Status]int{
		StatusPending:    1,
		StatusProcessing: 0,
		StatusFinished:   3,
		StatusFailed:     1,
	}, s.ByStatus)
	assert.Equal(t, []TagCount{
		{Value: "Texas Instruments", Count: 2},
		{Value: "STMicroelectronics", Count: 1},
	}, s.ByManufacturer)
	assert.Equal(t, []TagCount{
		{Value: "L7805", Count: 1},
		{Value: "LM2596", Count: 1},
		{Value: "TPS5430", Count: 1},
	}, s.ByPartNumber)
	require.NotNil(t, s.LatestAt)
	assert.Equal(t, firstSeen.Add(5*time.Minute), *s.LatestAt)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Total)
	assert.Nil(t, s.LatestAt)
	assert.Empty(t, s.ByManufacturer)
	assert.NotNil(t, s.ByManufacturer)
	assert.Equal(t, 0, s.ByStatus[StatusFinished])
}

func TestSummarizeKeepsTopTen(t *testing.T) {
	var list []*AnalysisRecord
	for i := range 12 {
		r := NewPending(fmt.Sprintf("/data/m%d.pdf", i), firstSeen)
		r.Tags[TagManufacturer] = fmt.Sprintf("maker-%02d", i)
		list = append(list, r)
	}
	s := Summarize(list)
	assert.Len(t, s.ByManufacturer, 10)
	assert.Equal(t, "maker-00", s.ByManufacturer[0].Value)
}
