package wat

import "unicode"

type tokenType int

const (
	lparen tokenType = iota
	rparen
	ident
	str
	number
)

func (t tokenType) String() string {
	switch t {
	case lparen:
		return "'('"
	case rparen:
		return "')'"
	case ident:
		return "identifier"
	case str:
		return "string"
	case number:
		return "number"
	}
	return "unknown"
}

type token struct {
	value string
	typ   tokenType
	line  int
}

func tokenize(input string) []token {
	var tokens []token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			line++
			continue
		}
		if unicode.IsSpace(r) {
			continue
		}

		// Line comment
		if r == ';' && i+1 < len(runes) && runes[i+1] == ';' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			line++
			continue
		}

		if r == '(' {
			if i+1 < len(runes) && runes[i+1] == ';' {
				depth := 1
				i += 2
				for i < len(runes) && depth > 0 {
					switch {
					case runes[i] == '(' && i+1 < len(runes) && runes[i+1] == ';':
						depth++
						i++
					case runes[i] == ';' && i+1 < len(runes) && runes[i+1] == ')':
						depth--
						i++
					case runes[i] == '\n':
						line++
					}
					i++
				}
				i--
				continue
			}
			tokens = append(tokens, token{"(", lparen, line})
			continue
		}

		if r == ')' {
			tokens = append(tokens, token{")", rparen, line})
			continue
		}

		if r == '"' {
			start := i + 1
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			end := min(i, len(runes))
			tokens = append(tokens, token{string(runes[start:end]), str, line})
			continue
		}

		if r == '-' || r == '+' || unicode.IsDigit(r) {
			start := i
			i++
			for i < len(runes) && (isHexDigit(runes[i]) || runes[i] == 'x' || runes[i] == 'X' || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{string(runes[start:i]), number, line})
			i--
			continue
		}

		// Keywords, $names and offset=/align= immediates.
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' && runes[i] != '"' {
			i++
		}
		tokens = append(tokens, token{string(runes[start:i]), ident, line})
		i--
	}

	return tokens
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
