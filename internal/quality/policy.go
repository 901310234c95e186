package quality

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// MaxRepeatedPunctuation is the most '!' or '?' a post may contain.
const MaxRepeatedPunctuation = 3

// DefaultBlocklist returns the reference list of spam and clickbait phrases.
func DefaultBlocklist() []string {
	return []string{
		"click here", "buy now", "limited time",
		"guaranteed", "revolutionary breakthrough",
		"shocking", "you won't believe",
	}
}

// PolicyCheck returns one reason per violation; an empty result means the
// content passes.
func PolicyCheck(content string, blocklist []string) []string {
	var violations []string

	folded := cases.Fold().String(content)
	for _, term := range blocklist {
		if term != "" && strings.Contains(folded, cases.Fold().String(term)) {
			violations = append(violations, fmt.Sprintf("blocked term %q", term))
		}
	}

	for _, p := range []string{"!", "?"} {
		if c := strings.Count(content, p); c > MaxRepeatedPunctuation {
			violations = append(violations, fmt.Sprintf("%d %q characters", c, p))
		}
	}
	return violations
}
