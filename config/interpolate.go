package config

import "strings"

type reference struct {
	name         string
	defaultValue string
}

func findClosingBrace(input string, start int) int {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '}':
			return i
		case '{':
			// nested references are not supported
			return -1
		}
	}
	return -1
}

func parseReference(inner string) reference {
	name, def, _ := strings.Cut(inner, ":-")
	return reference{name: strings.TrimPrefix(name, "env:"), defaultValue: def}
}

// interpolate replaces ${NAME} and ${NAME:-default} with values from lookup.
// An unset or empty variable with no default is left as written, as is
// anything malformed.
func interpolate(input string, lookup func(string) (string, bool)) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var result strings.Builder
	lastPos := 0
	for i := 0; i+1 < len(input); i++ {
		if input[i] != '$' || input[i+1] != '{' {
			continue
		}
		end := findClosingBrace(input, i+2)
		if end == -1 {
			continue
		}
		result.WriteString(input[lastPos:i])
		raw := input[i : end+1]
		ref := parseReference(input[i+2 : end])
		val, _ := lookup(ref.name)
		switch {
		case ref.name == "":
			result.WriteString(raw)
		case val != "":
			result.WriteString(val)
		case ref.defaultValue != "":
			result.WriteString(ref.defaultValue)
		default:
			result.WriteString(raw)
		}
		i = end
		lastPos = end + 1
	}
	result.WriteString(input[lastPos:])
	return result.String()
}
