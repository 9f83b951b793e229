package exporter

import (
	"fmt"
	"strings"

	"github.com/sql2fs/sql2fs/internal/models"
	"golang.org/x/text/encoding/charmap"
)

// Encodings lists the accepted output encodings.
func Encodings() []string {
	return []string{models.EncodingANSI, models.EncodingUTF8}
}

// NormalizeEncoding returns the canonical encoding name, or "" if unknown.
func NormalizeEncoding(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", models.EncodingANSI, "windows-1252", "cp1252":
		return models.EncodingANSI
	case models.EncodingUTF8, "utf-8":
		return models.EncodingUTF8
	}
	return ""
}

// Encode converts script text to bytes. ANSI output uses the Windows-1252
// code page and rejects characters it cannot represent.
func Encode(text, encoding string) ([]byte, error) {
	switch NormalizeEncoding(encoding) {
	case models.EncodingUTF8:
		return []byte(text), nil
	case models.EncodingANSI:
		out, err := charmap.Windows1252.NewEncoder().String(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", models.ErrEncoding, firstUnencodable(text), err)
		}
		return []byte(out), nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", models.ErrConfig, encoding)
	}
}

func firstUnencodable(text string) string {
	line := 1
	for _, r := range text {
		if r == '\n' {
			line++
			continue
		}
		if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return fmt.Sprintf("character %q (U+%04X) on line %d has no Windows-1252 form", r, r, line)
		}
	}
	return "text is not representable in Windows-1252"
}

// Assemble joins script parts into file content. Each part is followed by
// the batch terminator line when one is set.
func Assemble(parts []string, terminator string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 && terminator == "" {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimRight(part, " \t\r\n"))
		b.WriteString("\n")
		if terminator != "" {
			b.WriteString(terminator)
			b.WriteString("\n")
		}
	}
	return b.String()
}
