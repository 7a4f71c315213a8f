package druginfo

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTextLen     = 500
	maxSectionItem = 5
)

var (
	whitespace       = regexp.MustCompile(`\s+`)
	sectionDelimiter = regexp.MustCompile(`[•\n\r]+`)
)

// extractText collapses whitespace in the first entry of a label field and
// truncates it to 500 characters plus an ellipsis.
func extractText(field []string) string {
	if len(field) == 0 {
		return ""
	}
	text := strings.TrimSpace(whitespace.ReplaceAllString(field[0], " "))
	if utf8.RuneCountInString(text) > maxTextLen {
		text = string([]rune(text)[:maxTextLen]) + "..."
	}
	return text
}

// extractSection splits the first entry of a label field on bullets and
// line breaks and keeps up to five items between 11 and 199 characters.
func extractSection(field []string) []string {
	if len(field) == 0 {
		return nil
	}
	var items []string
	for _, raw := range sectionDelimiter.Split(field[0], -1) {
		item := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
		n := utf8.RuneCountInString(item)
		if n <= 10 || n >= 200 {
			continue
		}
		items = append(items, item)
		if len(items) == maxSectionItem {
			break
		}
	}
	return items
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
