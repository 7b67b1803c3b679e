package repo

import (
	"math"
	"testing"
)

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name                             string
		pageSize, maxResults, first, cnt int
		wantSkip, wantLimit              int
	}{
		{"first page unlimited", 5, 0, 0, 1, 0, 5},
		{"third page", 5, 0, 2, 1, 10, 5},
		{"two pages at once", 5, 0, 1, 2, 5, 10},
		{"cap cuts page", 5, 7, 1, 1, 5, 2},
		{"page beyond cap", 5, 7, 2, 1, 7, 0},
		{"zero page size", 0, 0, 3, 1, 3, 1},
		{"zero page count", 5, 0, 0, 0, 0, 5},
		{"negative first page", 5, 0, -1, 1, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.pageSize, tt.maxResults, tt.first, tt.cnt)
			if p.Skip != tt.wantSkip || p.Limit != tt.wantLimit {
				t.Errorf("NewPagination() = skip %d limit %d, want skip %d limit %d",
					p.Skip, p.Limit, tt.wantSkip, tt.wantLimit)
			}
		})
	}
}

func TestNewPagination_Overflow(t *testing.T) {
	p := NewPagination(math.MaxInt/2, 0, 10, 1)
	if p.Skip != math.MaxInt || p.Limit != 0 {
		t.Errorf("overflow: skip %d limit %d", p.Skip, p.Limit)
	}
}

func TestPagination_MaxReached(t *testing.T) {
	p := NewPagination(5, 7, 1, 1)
	if !p.MaxReached(2) {
		t.Error("expected cap reached for a full last window")
	}
	if p.MaxReached(1) {
		t.Error("cap is not reached when the window is not filled")
	}

	unlimited := NewPagination(5, 0, 0, 1)
	if unlimited.MaxReached(5) {
		t.Error("unlimited pagination never reaches the cap")
	}
}

func TestNewResultList_NilResults(t *testing.T) {
	list := NewResultList[int](nil, NewPagination(5, 0, 0, 1))
	if list.Results == nil {
		t.Fatal("results must be an empty slice, not nil")
	}
	if list.MaxResultCountReached {
		t.Error("unexpected MaxResultCountReached")
	}
}
