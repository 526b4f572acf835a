// Package encoding implements the Encoding Detector of spec.md §4.3: infer
// a file's byte encoding from its first bytes, falling back to UTF-8
// without ever raising an error.
package encoding

import "unicode/utf8"

// Encoding is the inferred byte encoding of a log file.
type Encoding int

const (
	UTF8 Encoding = iota
	UTF16LE
	UTF16BE
)

func (e Encoding) String() string {
	switch e {
	case UTF16LE:
		return "UTF-16LE"
	case UTF16BE:
		return "UTF-16BE"
	default:
		return "UTF-8"
	}
}

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// Result carries the detected encoding and whether the detector had to
// fall back to a heuristic or default guess rather than an explicit BOM,
// so the caller can record a warning tag on the file descriptor per
// spec.md §4.3.
type Result struct {
	Encoding Encoding
	BOMLen   int // bytes to skip if a BOM was found (0 otherwise)
	Ambiguous bool
}

// Detect infers the encoding of firstBytes (conventionally the first 4 KiB
// of a file, per spec.md §4.5). It never errors: on ambiguity it returns
// UTF8 with Ambiguous set.
func Detect(firstBytes []byte) Result {
	if hasPrefix(firstBytes, bomUTF8) {
		return Result{Encoding: UTF8, BOMLen: len(bomUTF8)}
	}
	if hasPrefix(firstBytes, bomUTF16LE) {
		return Result{Encoding: UTF16LE, BOMLen: len(bomUTF16LE)}
	}
	if hasPrefix(firstBytes, bomUTF16BE) {
		return Result{Encoding: UTF16BE, BOMLen: len(bomUTF16BE)}
	}

	if len(firstBytes) == 0 {
		return Result{Encoding: UTF8}
	}

	// Heuristic: a high proportion of null bytes suggests UTF-16 without a
	// BOM; otherwise trust a valid UTF-8 decode run.
	nulls := 0
	for _, b := range firstBytes {
		if b == 0 {
			nulls++
		}
	}
	if nulls*3 > len(firstBytes) { // > ~33% nulls
		return Result{Encoding: UTF8, Ambiguous: true}
	}
	if !utf8.Valid(firstBytes) {
		return Result{Encoding: UTF8, Ambiguous: true}
	}
	return Result{Encoding: UTF8}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if b[i] != p {
			return false
		}
	}
	return true
}
