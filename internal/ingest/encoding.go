package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// minDetectConfidence discards detector guesses that are no better than noise.
const minDetectConfidence = 10

type candidate struct {
	name string
	enc  encoding.Encoding
}

// fallbackCandidates are tried after the detected encoding, in order.
var fallbackCandidates = []candidate{
	{name: "utf-8-sig", enc: unicode.UTF8BOM},
	{name: "cp932", enc: japanese.ShiftJIS},
	{name: "euc-jp", enc: japanese.EUCJP},
}

func candidates(raw []byte) []candidate {
	out := make([]candidate, 0, len(fallbackCandidates)+1)
	if c, ok := detect(raw); ok {
		out = append(out, c)
	}
	return append(out, fallbackCandidates...)
}

// detect runs statistical charset detection and resolves the guess to a decoder.
func detect(raw []byte) (candidate, bool) {
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil || res.Confidence < minDetectConfidence {
		return candidate{}, false
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		return candidate{}, false
	}
	return candidate{name: strings.ToLower(res.Charset), enc: enc}, true
}

// decodeStrict decodes raw and rejects any result that needed replacement runes.
func decodeStrict(raw []byte, enc encoding.Encoding) (string, bool) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(out) || strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// decodeLossy keeps every valid UTF-8 sequence and replaces the rest.
func decodeLossy(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "\uFFFD")
}
