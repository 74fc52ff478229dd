package report

import (
	"regexp"
	"time"
)

const displayLayout = "02-01-2006  15:04:05"

// timestampPattern matches Jira's timestamp form, e.g.
// 2024-03-05T10:15:30.000+0200.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d+[+-]\d{4}$`)

const timestampLayout = "2006-01-02T15:04:05-0700"

// Layouts accepted for fields known to hold dates.
var dateLayouts = []string{
	timestampLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// IsTimestamp reports whether s is a Jira timestamp with offset.
func IsTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// FormatDate renders a Jira timestamp as DD-MM-YYYY  HH:MM:SS in the
// timestamp's own offset. Any other string is returned unchanged.
func FormatDate(raw string) string {
	if !IsTimestamp(raw) {
		return raw
	}
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return raw
	}
	return t.Format(displayLayout)
}

// formatDateField is FormatDate for values that are dates by field type,
// so plain dates and RFC 3339 forms are accepted too.
func formatDateField(raw string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(displayLayout)
		}
	}
	return raw
}
