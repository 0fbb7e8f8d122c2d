package core

import (
	"os"
	"strings"
)

// expandEnv resolves ${name:default} placeholders against the process
// environment. Only database URLs are expanded; a placeholder with no
// matching variable falls back to its default, or stays intact when no
// default is given.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.Index(s[i:], "}")
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])

		expr := s[i+2 : i+j]
		name, def, hasDef := strings.Cut(expr, ":")

		if v, ok := os.LookupEnv(name); ok {
			b.WriteString(v)
		} else if hasDef {
			b.WriteString(def)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
}
