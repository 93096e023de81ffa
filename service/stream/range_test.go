package stream

import (
	"testing"

	"github.com/tweag/asset-relay/service/status"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name   string
		header string
		total  int64
		want   Range
	}{
		{"closed", "bytes=0-99", 1000, Range{0, 99, 1000}},
		{"single byte", "bytes=5-5", 1000, Range{5, 5, 1000}},
		{"open ended", "bytes=900-", 1000, Range{900, 999, 1000}},
		{"suffix", "bytes=-100", 1000, Range{900, 999, 1000}},
		{"suffix longer than file", "bytes=-5000", 1000, Range{0, 999, 1000}},
		{"end clamped", "bytes=990-5000", 1000, Range{990, 999, 1000}},
		{"whitespace", " bytes= 10 - 19 ", 1000, Range{10, 19, 1000}},
		{"last byte", "bytes=999-999", 1000, Range{999, 999, 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.total)
			if err != nil {
				t.Fatalf("ParseRange(%q, %d) failed: %v", tt.header, tt.total, err)
			}
			if got != tt.want {
				t.Errorf("ParseRange(%q, %d) = %+v, want %+v", tt.header, tt.total, got, tt.want)
			}
		})
	}
}

func TestParseRangeUnsatisfiable(t *testing.T) {
	tests := []struct {
		name   string
		header string
		total  int64
	}{
		{"start beyond end", "bytes=2000-3000", 1000},
		{"start at size", "bytes=1000-", 1000},
		{"inverted", "bytes=50-10", 1000},
		{"zero suffix", "bytes=-0", 1000},
		{"empty file", "bytes=0-", 0},
		{"multiple ranges", "bytes=0-1,5-6", 1000},
		{"wrong unit", "items=0-1", 1000},
		{"no dash", "bytes=10", 1000},
		{"bare dash", "bytes=-", 1000},
		{"negative", "bytes=-5-10", 1000},
		{"plus sign", "bytes=+5-10", 1000},
		{"letters", "bytes=a-b", 1000},
		{"overflow", "bytes=99999999999999999999-", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRange(tt.header, tt.total)
			if code := status.CodeOf(err); code != status.Status_RANGE_NOT_SATISFIABLE {
				t.Errorf("ParseRange(%q, %d) code = %v, want %v", tt.header, tt.total, code, status.Status_RANGE_NOT_SATISFIABLE)
			}
		})
	}
}

func TestRangeHeaders(t *testing.T) {
	r := Range{Start: 0, End: 99, Total: 1000}
	if r.Length() != 100 {
		t.Errorf("Length() = %d, want 100", r.Length())
	}
	if got := r.ContentRange(); got != "bytes 0-99/1000" {
		t.Errorf("ContentRange() = %q", got)
	}
}
