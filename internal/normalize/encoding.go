package normalize

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names as recorded in checkpoints and metadata
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
	EncodingCP1252 = "cp1252"
)

// DefaultEncodings is the order in which text files are tried
var DefaultEncodings = []string{EncodingUTF8, EncodingLatin1, EncodingCP1252}

// DecodeText converts data to a UTF-8 string using the first candidate that
// accepts it and reports which one was used.
func DecodeText(data []byte, candidates ...string) (string, string, error) {
	if len(candidates) == 0 {
		candidates = DefaultEncodings
	}
	for _, enc := range candidates {
		switch enc {
		case EncodingUTF8:
			if utf8.Valid(data) {
				return string(data), enc, nil
			}
		case EncodingLatin1:
			out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
			if err == nil {
				return string(out), enc, nil
			}
		case EncodingCP1252:
			out, err := charmap.Windows1252.NewDecoder().Bytes(data)
			if err == nil {
				return string(out), enc, nil
			}
		}
	}
	return "", "", fmt.Errorf("no decoding among %v accepted the input", candidates)
}
