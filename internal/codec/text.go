package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/kailas-cloud/docarray/internal/domain"
)

// TextEncoding names the character set of a saved JSON file.
type TextEncoding string

// Supported text encodings.
const (
	EncodingUTF8   TextEncoding = "utf-8"
	EncodingCP1252 TextEncoding = "cp1252"
)

// ParseTextEncoding accepts the common spellings of utf-8 and cp1252.
func ParseTextEncoding(s string) (TextEncoding, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "cp1252", "windows-1252":
		return EncodingCP1252, nil
	}
	return "", fmt.Errorf("unknown text encoding %q: %w", s, domain.ErrInvalidArgument)
}

// EncodeText converts UTF-8 text to enc.
func EncodeText(text []byte, enc TextEncoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8:
		return text, nil
	case EncodingCP1252:
		out, err := charmap.Windows1252.NewEncoder().Bytes(text)
		if err != nil {
			return nil, fmt.Errorf("cp1252 encode: %w: %w", domain.ErrSerialization, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown text encoding %q: %w", enc, domain.ErrInvalidArgument)
}

// DecodeText converts enc-encoded bytes to UTF-8.
func DecodeText(data []byte, enc TextEncoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("invalid utf-8: %w", domain.ErrSerialization)
		}
		return data, nil
	case EncodingCP1252:
		out, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("cp1252 decode: %w: %w", domain.ErrSerialization, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown text encoding %q: %w", enc, domain.ErrInvalidArgument)
}
