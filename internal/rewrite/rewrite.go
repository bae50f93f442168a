// Package rewrite applies user-defined substitution rules to dictated text
// before it reaches any window. Rules live in a plain text file, one per
// line: literal rules ("teh => the") or sed-style regex rules
// ("s/\bum,?\s*//g"). Lines starting with # are comments.
package rewrite

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultPassLimit bounds how many times the rule set is re-applied when
// rules keep producing changes.
const DefaultPassLimit = 30

type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

// Engine holds a compiled rule set. A nil or empty engine passes text
// through unchanged.
type Engine struct {
	rules     []rule
	passLimit int
}

// Load compiles the rule file at path. A missing or empty path yields an
// engine that passes text through.
func Load(path string, passLimit int) (*Engine, error) {
	if passLimit <= 0 {
		passLimit = DefaultPassLimit
	}

	engine := &Engine{passLimit: passLimit}
	if strings.TrimSpace(path) == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		compiled, err := compileRule(line)
		if err != nil {
			return nil, fmt.Errorf("rules file %q line %d: %w", path, index+1, err)
		}
		engine.rules = append(engine.rules, compiled)
	}

	return engine, nil
}

// Apply runs the rule set over text until it stops changing or the pass
// limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	if e == nil || len(e.rules) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.passLimit; pass++ {
		changed := false
		for _, r := range e.rules {
			next := r.apply(result)
			if next != result {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func (r rule) apply(input string) string {
	if !r.firstOnly {
		return r.re.ReplaceAllString(input, r.replacement)
	}
	loc := r.re.FindStringIndex(input)
	if loc == nil {
		return input
	}
	segment := r.re.ReplaceAllString(input[loc[0]:loc[1]], r.replacement)
	return input[:loc[0]] + segment + input[loc[1]:]
}

func compileRule(line string) (rule, error) {
	if isRegexRule(line) {
		return compileRegexRule(line)
	}
	if strings.Contains(line, "=>") {
		return compileLiteralRule(line)
	}
	return rule{}, errors.New("unsupported rule format")
}

func compileLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return rule{}, fmt.Errorf("invalid literal source: %w", err)
	}
	return rule{re: re, replacement: to}, nil
}

// isRegexRule recognizes "s<delim>pattern<delim>replacement<delim>flags".
func isRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1])
}

func compileRegexRule(line string) (rule, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	modifiers := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
			// Case-insensitive is already the default.
		case 'g':
			global = true
		case 'm', 's':
			modifiers += string(flag)
		case ' ':
		default:
			return rule{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modifiers + ")" + pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: replacement, firstOnly: !global}, nil
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var out strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			out.WriteByte(c)
			escaped = false
		case c == '\\':
			out.WriteByte(c)
			escaped = true
		case c == delim:
			return out.String(), i + 1, nil
		default:
			out.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}
