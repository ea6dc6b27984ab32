package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var bracketGroup = regexp.MustCompile(`\[([^\[\]]*)\]`)

// SplitBilingualName parses Odoo's bilingual naming conventions into English
// and Arabic parts. Recognised forms, in order:
//
//	[عصائر] [Juices]       bracket groups (text outside brackets counts as a group)
//	Juices - عصائر          hyphen separated, either order
//	Grocery/Juices          last path segment, parsed again
//
// Anything else is returned as a single language chosen by script.
func SplitBilingualName(raw string) (en, ar string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	if en, ar, ok := splitBrackets(raw); ok {
		return en, ar
	}
	if !strings.Contains(raw, "/") {
		if en, ar, ok := splitHyphen(raw); ok {
			return en, ar
		}
	}
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		if last := strings.TrimSpace(raw[idx+1:]); last != "" && last != raw {
			return SplitBilingualName(last)
		}
	}
	return singleLanguage(raw)
}

func splitBrackets(raw string) (en, ar string, ok bool) {
	groups := bracketGroup.FindAllStringSubmatch(raw, -1)
	if len(groups) == 0 {
		return "", "", false
	}
	rest := strings.TrimSpace(bracketGroup.ReplaceAllString(raw, " "))
	if strings.Contains(rest, "/") {
		return "", "", false
	}

	var parts []string
	if rest != "" {
		parts = append(parts, rest)
	}
	for _, g := range groups {
		if p := strings.TrimSpace(g[1]); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		if len(parts) == 1 {
			en, ar = singleLanguage(parts[0])
			return en, ar, true
		}
		return "", "", false
	}

	for _, p := range parts {
		if hasArabic(p) {
			if ar == "" {
				ar = p
			}
		} else if en == "" {
			en = p
		}
	}
	return en, ar, true
}

// splitHyphen looks for the first hyphen with Latin text on one side and
// Arabic text on the other, so "Coca-Cola - كوكا كولا" splits at the second one.
func splitHyphen(raw string) (en, ar string, ok bool) {
	for i, r := range raw {
		if r != '-' && r != '–' && r != '—' {
			continue
		}
		left := strings.TrimSpace(raw[:i])
		right := strings.TrimSpace(raw[i+len(string(r)):])
		if left == "" || right == "" {
			continue
		}
		switch {
		case isLatinOnly(left) && isArabicOnly(right):
			return left, right, true
		case isArabicOnly(left) && isLatinOnly(right):
			return right, left, true
		}
	}
	return "", "", false
}

func singleLanguage(s string) (en, ar string) {
	arabic, latin := 0, 0
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.IsLetter(r):
			latin++
		}
	}
	if arabic > latin {
		return "", s
	}
	return s, ""
}

func hasArabic(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.Is(unicode.Arabic, r) }) >= 0
}

func hasLatin(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) && !unicode.Is(unicode.Arabic, r) }) >= 0
}

func isArabicOnly(s string) bool { return hasArabic(s) && !hasLatin(s) }

func isLatinOnly(s string) bool { return hasLatin(s) && !hasArabic(s) }

var slugSeparators = regexp.MustCompile(`-+`)

// Slugify lowercases s, strips diacritics and replaces everything that is not
// a letter or digit with single dashes. Arabic letters are kept.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return strings.Trim(slugSeparators.ReplaceAllString(b.String(), "-"), "-")
}

// shortCode keeps the first n ASCII letters and digits of s, upper-cased
func shortCode(s string, n int) string {
	var b strings.Builder
	for _, r := range Slugify(s) {
		if b.Len() >= n {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
