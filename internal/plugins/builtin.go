package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TIME PLUGIN
// ═══════════════════════════════════════════════════════════════════════════════

// TimePlugin answers questions about the current date and time.
type TimePlugin struct {
	now func() time.Time
}

// NewTimePlugin creates the time plugin using the wall clock.
func NewTimePlugin() *TimePlugin {
	return &TimePlugin{now: time.Now}
}

func (p *TimePlugin) Name() string        { return "time" }
func (p *TimePlugin) Description() string { return "Tells the current date and time" }

func (p *TimePlugin) Triggers() []string {
	return []string{"what time", "current time", "what date", "what day", "today's date"}
}

func (p *TimePlugin) Handle(_ context.Context, _ string) (*Response, bool) {
	now := p.now()
	return &Response{
		Content: fmt.Sprintf("It is %s on %s.",
			now.Format("3:04 PM"), now.Format("Monday, January 2, 2006")),
		Metadata: map[string]any{"timestamp": now.Format(time.RFC3339)},
	}, true
}

// ═══════════════════════════════════════════════════════════════════════════════
// CALCULATOR PLUGIN
// ═══════════════════════════════════════════════════════════════════════════════

var exprPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)calculate\s+(.+)`),
	regexp.MustCompile(`(?i)what\s+is\s+([\d\s+\-*/().]+)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?(?:\s*[+\-*/]\s*\d+(?:\.\d+)?)+)`),
}

var validExpr = regexp.MustCompile(`^[\d\s+\-*/().]+$`)

// CalculatorPlugin evaluates arithmetic expressions with + - * / and parens.
type CalculatorPlugin struct{}

// NewCalculatorPlugin creates the calculator plugin.
func NewCalculatorPlugin() *CalculatorPlugin {
	return &CalculatorPlugin{}
}

func (p *CalculatorPlugin) Name() string        { return "calculator" }
func (p *CalculatorPlugin) Description() string { return "Performs mathematical calculations" }

func (p *CalculatorPlugin) Triggers() []string {
	return []string{"calculate", "math", "+", "-", "*", "/"}
}

func (p *CalculatorPlugin) Handle(_ context.Context, msg string) (*Response, bool) {
	for _, pat := range exprPatterns {
		m := pat.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		expr := strings.TrimSpace(m[1])
		if !validExpr.MatchString(expr) {
			continue
		}

		result, err := evalExpr(expr)
		if err != nil {
			return &Response{
				Content:  fmt.Sprintf("Sorry, I couldn't calculate that: %v", err),
				Metadata: map[string]any{"expression": expr, "error": err.Error()},
			}, true
		}

		return &Response{
			Content:  fmt.Sprintf("The result is: %s", formatNumber(result)),
			Metadata: map[string]any{"expression": expr, "result": result},
		}, true
	}

	return nil, false
}

func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s
}

// evalExpr evaluates an arithmetic expression via recursive descent.
// Grammar: expr = term (('+'|'-') term)*, term = factor (('*'|'/') factor)*,
// factor = number | '(' expr ')' | '-' factor.
func evalExpr(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q", p.input[p.pos])
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected character %q", c)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c < '0' || c > '9') && c != '.' {
			break
		}
		p.pos++
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELP PLUGIN
// ═══════════════════════════════════════════════════════════════════════════════

// HelpPlugin lists the registered plugins and what they do.
type HelpPlugin struct {
	registry *Registry
}

// NewHelpPlugin creates the help plugin bound to a registry.
func NewHelpPlugin(r *Registry) *HelpPlugin {
	return &HelpPlugin{registry: r}
}

func (p *HelpPlugin) Name() string        { return "help" }
func (p *HelpPlugin) Description() string { return "Lists available plugins" }

func (p *HelpPlugin) Triggers() []string {
	return []string{"list plugins", "what plugins", "available plugins"}
}

func (p *HelpPlugin) Handle(_ context.Context, _ string) (*Response, bool) {
	var b strings.Builder
	b.WriteString("Available plugins:\n")
	for _, h := range p.registry.Handlers() {
		fmt.Fprintf(&b, "- %s: %s\n", h.Name(), h.Description())
	}
	return &Response{
		Content:  strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]any{"plugin_count": len(p.registry.Handlers())},
	}, true
}
