// Package progress turns the line-oriented output of external tools into job
// progress updates.
package progress

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
)

var (
	leadingPercent = regexp.MustCompile(`^\s*(\d{1,3})%`)
	fraction       = regexp.MustCompile(`(\d+(?:\.\d+)?)/(\d+(?:\.\d+)?)`)
)

// ParsePercent extracts a completion percentage from a single output line.
// A leading "NN%" marker wins; otherwise the first "current/total" pair is
// used. The result is clamped to [0,100].
func ParsePercent(line string) (int, bool) {
	if m := leadingPercent.FindStringSubmatch(line); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return clamp(pct), true
	}

	m := fraction.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	cur, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	total, err := strconv.ParseFloat(m[2], 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return clamp(int(math.Round(cur / total * 100))), true
}

// Scale maps pct in [0,100] onto [lo,hi].
func Scale(pct, lo, hi int) int {
	return lo + int(math.Round(float64(clamp(pct))/100*float64(hi-lo)))
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ScanLines is a bufio.SplitFunc that treats "\n", "\r\n" and a bare "\r" as
// line terminators. Progress bars redraw themselves with carriage returns, so
// bufio.ScanLines would otherwise buffer an entire run into one token.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// need one more byte to tell "\r" from "\r\n"
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
