package internal

import (
	"fmt"
	"strings"

	"github.com/sansecio/sigscan/pattern"
)

// YaraSource renders one YARA rule per pattern. Rule i is named sig<i> and
// holds the pattern as a hex string. YARA hex strings cannot begin or end
// with a wildcard, so such patterns are left out and their indices returned.
func YaraSource(patterns []*pattern.Pattern) (src string, skipped []int) {
	var sb strings.Builder
	for i, p := range patterns {
		mask := p.Mask()
		if mask[0] == 0 || mask[len(mask)-1] == 0 {
			skipped = append(skipped, i)
			continue
		}
		fmt.Fprintf(&sb, "rule sig%d {\n  strings:\n    $p = { %s }\n  condition:\n    $p\n}\n", i, p.String())
	}
	return sb.String(), skipped
}
