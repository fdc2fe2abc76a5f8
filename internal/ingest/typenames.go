package ingest

import (
	"path/filepath"
	"strings"
)

// UnknownType labels records whose type could not be inferred.
const UnknownType = "不明"

// filenameTypes maps romanized file-name fragments of the prefectural
// per-method exports to incident-type labels. Order is significant.
var filenameTypes = []struct {
	fragment string
	label    string
}{
	{"hittakuri", "ひったくり"},
	{"syazyounerai", "車上ねらい"},
	{"buhinnerai", "部品ねらい"},
	{"zidousyatou", "自動車盗"},
	{"ootobaitou", "オートバイ盗"},
	{"zitensyatou", "自転車盗"},
	{"zidouhanbaikinerai", "自動販売機ねらい"},
}

// TypeFromFilename infers an incident type from the base name of a source.
func TypeFromFilename(name string) string {
	base := strings.ToLower(filepath.Base(name))
	for _, ft := range filenameTypes {
		if strings.Contains(base, ft.fragment) {
			return ft.label
		}
	}
	return UnknownType
}
