package revalidation

import (
	"fmt"
	"strings"
)

// InterpolateKey replaces {name} placeholders in format with the argument
// bound to the parameter of that name. Nil arguments render as "null";
// placeholders without a matching parameter are kept as is.
func InterpolateKey(format string, params []string, args []any) string {
	if !strings.Contains(format, "{") {
		return format
	}

	pairs := make([]string, 0, len(params)*2)
	for i, name := range params {
		var arg any
		if i < len(args) {
			arg = args[i]
		}
		pairs = append(pairs, "{"+name+"}", render(arg))
	}
	return strings.NewReplacer(pairs...).Replace(format)
}

func render(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
