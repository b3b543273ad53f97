package format

import (
	"strings"

	"github.com/kyokomi/emoji/v2"
)

// Emojize resolves an emoji alias such as "sunny" or "door" to its
// unicode character, for decorating button labels. Unknown aliases are
// returned in their ":alias:" form unchanged.
func Emojize(alias string) string {
	code := ":" + strings.Trim(strings.TrimSpace(alias), ":") + ":"
	if e, ok := emoji.CodeMap()[code]; ok {
		return e
	}
	return code
}
