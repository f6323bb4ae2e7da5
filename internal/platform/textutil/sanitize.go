package textutil

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// PlainText strips markup from free text coming from collaborators or operators
// and bounds its length in runes. A non-positive limit disables truncation.
func PlainText(s string, limit int) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	cleaned := html.UnescapeString(strictPolicy.Sanitize(s))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 {
		if r := []rune(cleaned); len(r) > limit {
			cleaned = string(r[:limit])
		}
	}
	return cleaned
}
