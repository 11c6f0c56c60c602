package coreerrors

import "strings"

// Mask shortens text for diagnostic logging: it keeps a short prefix and
// suffix and collapses the middle, so support logs never carry a full
// dialogue body or secret value. Short inputs are returned unchanged.
func Mask(text string, keep int) string {
	if keep <= 0 {
		keep = 24
	}
	r := []rune(text)
	if len(r) <= keep*2+3 {
		return text
	}
	return string(r[:keep]) + "..." + string(r[len(r)-keep:])
}

// MaskLines applies Mask to each line of a multi-line block, preserving
// line breaks, for masking whole message bodies in debug logs.
func MaskLines(text string, keep int) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = Mask(l, keep)
	}
	return strings.Join(lines, "\n")
}
