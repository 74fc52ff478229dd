package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var issueKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-[0-9]+$`)

// ExtractIssueKey accepts a bare issue key or a browse URL such as
// https://acme.atlassian.net/browse/FTT-12 and returns the upper-cased key.
func ExtractIssueKey(arg string) (string, error) {
	candidate := strings.TrimSpace(arg)
	if i := strings.Index(candidate, "/browse/"); i >= 0 {
		candidate = candidate[i+len("/browse/"):]
	}
	if i := strings.IndexAny(candidate, "/?#"); i >= 0 {
		candidate = candidate[:i]
	}

	if !issueKeyPattern.MatchString(candidate) {
		return "", fmt.Errorf("'%s' does not contain an issue key", arg)
	}
	return strings.ToUpper(candidate), nil
}
