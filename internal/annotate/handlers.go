package annotate

import (
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
)

// HasErrorHandling reports whether any handler pattern of the pack matches
// the code of a block or the directives in force before it. Comments and
// string literals never match.
func HasErrorHandling(b *script.Block, pack *rules.Pack) bool {
	code := b.Code
	if b.Context != "" {
		code = b.Context + "\n" + code
	}
	for _, re := range pack.Handlers() {
		if re.MatchString(code) {
			return true
		}
	}
	return false
}
