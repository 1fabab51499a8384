// KEYS and SCAN match keys against Redis-style glob patterns after the ordered merge; the following module
// implements glob matching. v.io globs split patterns into '/' separated elements while Redis patterns treat '/'
// as a plain character, so '/' is swapped for a private use rune in both the pattern and the key before matching.
// Keys holding that rune match patterns as if it were a '/'.

package scan

import (
	"fmt"
	"iter"
	"strings"

	"github.com/nobletooth/skipkv/pkg/utils"
	"v.io/v23/glob"
)

const separatorStandIn = "\uE000"

var separatorEscaper = strings.NewReplacer("/", separatorStandIn)

// MatchGlob filters the `pairs` stream down to the keys matching the `pattern` glob.
// An invalid pattern is reported as an error instead of silently matching nothing.
func MatchGlob[V any](pattern string, pairs iter.Seq[utils.Pair[string, V]]) (iter.Seq[utils.Pair[string, V]], error) {
	parsedPattern, err := glob.Parse(separatorEscaper.Replace(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	if parsedPattern.Len() != 1 {
		return nil, fmt.Errorf("invalid glob pattern %q: expected a single element", pattern)
	}
	matcher := parsedPattern.Head()
	return func(yield func(utils.Pair[string, V]) bool) {
		for pair := range pairs {
			if matcher.Match(separatorEscaper.Replace(pair.Key)) {
				if !yield(pair) {
					return
				}
			}
		}
	}, nil
}
