package ingest

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Schema holds the inferred column index per role; -1 means no column matched.
type Schema struct {
	Date         int
	Locality     int
	IncidentType int
}

func (s Schema) HasDate() bool         { return s.Date >= 0 }
func (s Schema) HasLocality() bool     { return s.Locality >= 0 }
func (s Schema) HasIncidentType() bool { return s.IncidentType >= 0 }

// matcher tests one normalized header.
type matcher func(header string) bool

func pattern(expr string) matcher {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

func anyToken(tokens ...string) matcher {
	return func(header string) bool {
		h := strings.ToLower(header)
		for _, tok := range tokens {
			if strings.Contains(h, tok) {
				return true
			}
		}
		return false
	}
}

// Each role is a list of passes over the headers; within a pass, a header is tested
// against every matcher before moving to the next header. The first hit wins.
var (
	datePasses = [][]matcher{
		{pattern(`(発生|年月日|日付|日時)`)},
		{anyToken("date", "day", "time", "occur")},
	}
	localityPasses = [][]matcher{
		{pattern(`(市|町|村).*名`), pattern(`(市町村|自治体|地域)`)},
		{anyToken("municipality", "city", "town", "area", "region")},
	}
	typePasses = [][]matcher{
		{pattern(`(手口|罪|罪種|種別|分類)`)},
		{anyToken("type", "category", "kind", "crime")},
	}
)

// InferSchema picks the date, locality and incident-type columns from headers.
// Ties are broken by header order; data values are never inspected.
func InferSchema(headers []string) Schema {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = strings.TrimSpace(norm.NFKC.String(h))
	}
	return Schema{
		Date:         firstMatch(normalized, datePasses),
		Locality:     firstMatch(normalized, localityPasses),
		IncidentType: firstMatch(normalized, typePasses),
	}
}

func firstMatch(headers []string, passes [][]matcher) int {
	for _, pass := range passes {
		for i, h := range headers {
			for _, m := range pass {
				if m(h) {
					return i
				}
			}
		}
	}
	return -1
}
