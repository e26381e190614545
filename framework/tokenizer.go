package framework

import "strings"

// Tokenize splits a command line into an argument vector without shell
// interpretation. Double-quoted regions belong to a single argument and lose
// their quotes. An unbalanced quote simply extends the current argument to
// the end of the input.
func Tokenize(command string) []string {
	var (
		args    []string
		current strings.Builder
		inQuote bool
		pending bool
	)
	for _, r := range command {
		switch {
		case r == '"':
			inQuote = !inQuote
			pending = true
		case (r == ' ' || r == '\t') && !inQuote:
			if pending {
				args = append(args, current.String())
				current.Reset()
				pending = false
			}
		default:
			current.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, current.String())
	}
	return args
}
