package scan

import "strings"

// Arabic keyboard-layout artifacts. A scanner acting as a keyboard
// wedge while the OS layout is Arabic garbles the short control
// barcodes into these exact sequences.
var arabicArtifacts = map[string]string{
	"ٍ×/":  "SOL",
	"}آلإ": "CNT",
	"×[ٌ":  "OFR",
}

// arabicIndicDigits maps U+0660..U+0669 to ASCII.
var arabicIndicDigits = map[rune]rune{
	'٠': '0', '١': '1', '٢': '2', '٣': '3', '٤': '4',
	'٥': '5', '٦': '6', '٧': '7', '٨': '8', '٩': '9',
}

// Normalize turns a raw scanner payload into the intended code:
// transliterate Arabic-locale artifacts, strip non-alphanumeric noise,
// and collapse accidental doubled payloads.
func Normalize(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if token, ok := arabicArtifacts[value]; ok {
		return token
	}

	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if ascii, ok := arabicIndicDigits[r]; ok {
			b.WriteRune(ascii)
			continue
		}
		if isAlphanumeric(r) {
			b.WriteRune(r)
		}
	}
	return collapseDoubled(b.String())
}

// collapseDoubled folds a payload that is exactly two concatenated
// identical halves down to the single intended value. Scanners
// occasionally fire twice into one keystroke buffer.
func collapseDoubled(value string) string {
	if n := len(value); n >= 2 && n%2 == 0 {
		half := value[:n/2]
		if half == value[n/2:] {
			return half
		}
	}
	return value
}

func isAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
