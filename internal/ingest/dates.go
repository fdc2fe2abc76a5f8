package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	// 2019-05-03, 2019/5/3, 2019.5.3, 2019年5月3日, optionally followed by a time.
	ymdPattern = regexp.MustCompile(`^(\d{4})[-/.年](\d{1,2})[-/.月](\d{1,2})日?(?:[ T]+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	// 20190503
	compactPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	// R1.5.3, H31/4/30, 令和元年5月3日, 平成31年4月30日
	eraPattern = regexp.MustCompile(`^(令和|平成|R|H)(元|\d{1,2})[-/.年](\d{1,2})[-/.月](\d{1,2})日?`)
)

// eraOffsets maps an era marker to the Gregorian year preceding its first year.
var eraOffsets = map[string]int{
	"令和": 2018,
	"R":  2018,
	"平成": 1988,
	"H":  1988,
}

// ParseDate parses the date layouts found in municipal open-data exports.
// It returns nil when the value is empty or not recognizable.
func ParseDate(value string) *time.Time {
	s := strings.TrimSpace(norm.NFKC.String(value))
	if s == "" {
		return nil
	}

	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		hour, minute, sec := atoi(m[4]), atoi(m[5]), atoi(m[6])
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]), hour, minute, sec)
	}
	if m := compactPattern.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]), 0, 0, 0)
	}
	if m := eraPattern.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		year := 1
		if m[2] != "元" {
			year = atoi(m[2])
		}
		return civil(eraOffsets[m[1]]+year, atoi(m[3]), atoi(m[4]), 0, 0, 0)
	}
	return nil
}

// civil builds a UTC time and rejects out-of-range components instead of normalizing them.
func civil(year, month, day, hour, minute, sec int) *time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 59 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
	if t.Day() != day {
		return nil
	}
	return &t
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
