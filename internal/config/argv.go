package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// parseArgv splits a command line the way a POSIX shell would for plain words:
// single quotes are literal, double quotes honour \" and \\, and a bare
// backslash escapes the next character. A leading "~/" on any word expands to
// the home directory. A line starting with '#' is treated as unset.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || input[0] == '#' {
		return nil, nil
	}

	var argv []string
	var word strings.Builder
	inWord := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if inWord {
				argv = append(argv, expandHome(word.String()))
				word.Reset()
				inWord = false
			}
		case ch == '\\':
			if i+1 >= len(input) {
				return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
			}
			i++
			word.WriteByte(input[i])
			inWord = true
		case ch == '\'':
			end := strings.IndexByte(input[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote in command: %q", input)
			}
			word.WriteString(input[i+1 : i+1+end])
			i += end + 1
			inWord = true
		case ch == '"':
			next, err := readDoubleQuoted(input, i+1, &word)
			if err != nil {
				return nil, err
			}
			i = next
			inWord = true
		default:
			word.WriteByte(ch)
			inWord = true
		}
	}
	if inWord {
		argv = append(argv, expandHome(word.String()))
	}
	return argv, nil
}

// readDoubleQuoted consumes input from start up to the closing quote and
// returns the index of that quote.
func readDoubleQuoted(input string, start int, word *strings.Builder) (int, error) {
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '"':
			return i, nil
		case '\\':
			if i+1 < len(input) && (input[i+1] == '"' || input[i+1] == '\\') {
				i++
			}
		}
		word.WriteByte(input[i])
	}
	return 0, fmt.Errorf("unterminated quote in command: %q", input)
}

func expandHome(word string) string {
	if !strings.HasPrefix(word, "~/") {
		return word
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return word
	}
	return filepath.Join(home, word[2:])
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}
