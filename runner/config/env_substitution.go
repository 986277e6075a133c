package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRefRegex matches ${...} references, optionally escaped with a leading $
var envRefRegex = regexp.MustCompile(`\$?\$\{([^}]*)\}`)

// SubstituteEnvVars replaces environment variable references in YAML content.
// Supported forms:
//   - ${VAR}            value of VAR, empty when unset
//   - ${VAR:-default}   default when VAR is empty or unset
//   - ${VAR:?message}   error when VAR is empty or unset
//   - $${VAR}           literal ${VAR}
//
// Every reference is processed; the first required-variable error is returned
// together with the partially substituted content.
func SubstituteEnvVars(content string) (string, error) {
	var firstErr error

	result := envRefRegex.ReplaceAllStringFunc(content, func(ref string) string {
		if strings.HasPrefix(ref, "$$") {
			return ref[1:]
		}
		expr := ref[2 : len(ref)-1]

		if name, msg, ok := strings.Cut(expr, ":?"); ok {
			name = strings.TrimSpace(name)
			value := os.Getenv(name)
			if value == "" && firstErr == nil {
				msg = strings.TrimSpace(msg)
				if msg == "" {
					msg = fmt.Sprintf("required environment variable %s is not set", name)
				}
				firstErr = fmt.Errorf("%s", msg)
			}
			return value
		}

		if name, def, ok := strings.Cut(expr, ":-"); ok {
			if value := os.Getenv(strings.TrimSpace(name)); value != "" {
				return value
			}
			return strings.TrimSpace(def)
		}

		return os.Getenv(expr)
	})

	return result, firstErr
}
