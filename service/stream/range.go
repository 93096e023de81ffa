package stream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tweag/asset-relay/service/status"
)

// Range is an inclusive byte range of a file of Total bytes.
// 0 <= Start <= End < Total.
type Range struct {
	Start int64
	End   int64
	Total int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value of a 206 response.
func (r Range) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ParseRange parses a Range header against a file of total bytes.
// It accepts exactly one range in one of the forms "bytes=A-B", "bytes=A-" or "bytes=-N".
// An end beyond the file is clamped to the last byte.
// Anything else, including multiple ranges, yields a RangeNotSatisfiable status error.
func ParseRange(header string, total int64) (Range, error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, status.RangeNotSatisfiable("unsupported range unit")
	}
	if strings.Contains(ranges, ",") {
		return Range{}, status.RangeNotSatisfiable("multiple ranges are not supported")
	}
	first, last, ok := strings.Cut(strings.TrimSpace(ranges), "-")
	if !ok {
		return Range{}, status.RangeNotSatisfiable("malformed range")
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if total <= 0 {
		return Range{}, status.RangeNotSatisfiable("empty file")
	}

	if first == "" {
		suffix, err := parseOffset(last)
		if err != nil {
			return Range{}, status.RangeNotSatisfiable("malformed range")
		}
		if suffix == 0 {
			return Range{}, status.RangeNotSatisfiable("empty suffix range")
		}
		suffix = min(suffix, total)
		return Range{Start: total - suffix, End: total - 1, Total: total}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return Range{}, status.RangeNotSatisfiable("malformed range")
	}
	if start >= total {
		return Range{}, status.RangeNotSatisfiable(fmt.Sprintf("range starts beyond %d bytes", total))
	}
	end := total - 1
	if last != "" {
		requested, err := parseOffset(last)
		if err != nil || requested < start {
			return Range{}, status.RangeNotSatisfiable("malformed range")
		}
		end = min(requested, end)
	}
	return Range{Start: start, End: end, Total: total}, nil
}

// parseOffset accepts plain decimal digits only.
func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
