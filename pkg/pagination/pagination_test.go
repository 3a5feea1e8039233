package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func listContext(t *testing.T, target string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/api/v1/records", DefaultLimit, 0},
		{"explicit window", "/api/v1/records?limit=50&offset=10", 50, 10},
		{"limit capped", "/api/v1/records?limit=9999", MaxLimit, 0},
		{"negative offset clamped", "/api/v1/records?offset=-5", DefaultLimit, 0},
		{"garbage falls back", "/api/v1/records?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromContext(listContext(t, tt.target))
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 25, Offset: 50}
	if got := p.SQL(); got != "LIMIT 25 OFFSET 50" {
		t.Errorf("SQL() = %q, want LIMIT 25 OFFSET 50", got)
	}
}

func TestNewResponse(t *testing.T) {
	records := []string{"rec-1", "rec-2", "rec-3"}

	r := NewResponse(records, 10, Params{Limit: 3, Offset: 0}, "/api/v1/records")
	if r.Total != 10 {
		t.Errorf("Total = %d, want 10", r.Total)
	}
	if !r.HasMore {
		t.Error("HasMore = false with seven results still unread")
	}

	last := NewResponse(records, 3, Params{Limit: 3, Offset: 0}, "/api/v1/records")
	if last.HasMore {
		t.Error("HasMore = true on the final page")
	}
}

func TestWindowNavigation(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		total   int
		hasNext bool
		hasPrev bool
		nextOff int
		prevOff int
	}{
		{"first of many", Params{Limit: 25, Offset: 0}, 60, true, false, 25, 0},
		{"middle", Params{Limit: 25, Offset: 25}, 60, true, true, 50, 0},
		{"last partial", Params{Limit: 25, Offset: 50}, 60, false, true, 75, 25},
		{"empty queue", Params{Limit: 25, Offset: 0}, 0, false, false, 25, 0},
		{"prev clamped", Params{Limit: 25, Offset: 10}, 60, true, true, 35, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.hasNext {
				t.Errorf("HasNext() = %v, want %v", got, tt.hasNext)
			}
			if got := tt.params.HasPrevious(); got != tt.hasPrev {
				t.Errorf("HasPrevious() = %v, want %v", got, tt.hasPrev)
			}
			if got := tt.params.NextOffset(); got != tt.nextOff {
				t.Errorf("NextOffset() = %d, want %d", got, tt.nextOff)
			}
			if got := tt.params.PreviousOffset(); got != tt.prevOff {
				t.Errorf("PreviousOffset() = %d, want %d", got, tt.prevOff)
			}
		})
	}
}

func TestLinks(t *testing.T) {
	byRel := func(links []Link) map[string]string {
		m := make(map[string]string, len(links))
		for _, l := range links {
			m[l.Rel] = l.URL
		}
		return m
	}

	t.Run("first page", func(t *testing.T) {
		links := byRel(Params{Limit: 25, Offset: 0}.Links("/api/v1/records", 60))
		if links["self"] != "/api/v1/records?limit=25&offset=0" {
			t.Errorf("self = %q", links["self"])
		}
		if links["next"] != "/api/v1/records?limit=25&offset=25" {
			t.Errorf("next = %q", links["next"])
		}
		if _, ok := links["previous"]; ok {
			t.Error("previous link present on the first page")
		}
	})

	t.Run("last page", func(t *testing.T) {
		links := byRel(Params{Limit: 25, Offset: 50}.Links("/api/v1/records", 60))
		if _, ok := links["next"]; ok {
			t.Error("next link present on the last page")
		}
		if links["previous"] != "/api/v1/records?limit=25&offset=25" {
			t.Errorf("previous = %q", links["previous"])
		}
	})

	t.Run("empty listing keeps self", func(t *testing.T) {
		links := Params{Limit: 25, Offset: 0}.Links("/api/v1/records", 0)
		if len(links) != 1 || links[0].Rel != "self" {
			t.Fatalf("links = %+v, want self only", links)
		}
	})
}
