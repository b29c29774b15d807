package recipe

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports a malformed recipe file with its position. Registry
// loading stops at the first malformed file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

var (
	assignRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)
	funcRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(\)\s*\{\s*$`)
)

// ParseFile reads and parses one recipe file. A file may define one or more
// recipes; each definition starts at a fresh `name=` assignment.
func ParseFile(path string) ([]*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := &parser{file: path}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		if err := p.consume(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return p.finish()
}

// Parse parses recipe definitions from an in-memory buffer. The filename is
// used for error reporting only.
func Parse(src string, filename string) ([]*Recipe, error) {
	p := &parser{file: filename}
	for _, line := range strings.Split(src, "\n") {
		p.line++
		if err := p.consume(line); err != nil {
			return nil, err
		}
	}
	return p.finish()
}

// parser is a line-oriented state machine over the shell-variable recipe
// convention. Outside a function it accepts comments, blank lines and
// variable assignments; inside a function it collects the body verbatim,
// tracking brace depth until the definition closes.
type parser struct {
	file string
	line int

	recipes []*Recipe
	cur     *Recipe

	inFunc   bool
	funcName string
	funcLine int
	depth    int
	body     []string
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{File: p.file, Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) consume(raw string) error {
	if p.inFunc {
		return p.consumeBody(raw)
	}

	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	if m := funcRe.FindStringSubmatch(line); m != nil {
		if p.cur == nil {
			return p.errorf("function %q defined before any name= assignment", m[1])
		}
		p.inFunc = true
		p.funcName = m[1]
		p.funcLine = p.line
		p.depth = 1
		p.body = p.body[:0]
		return nil
	}

	if m := assignRe.FindStringSubmatch(line); m != nil {
		return p.assign(m[1], unquote(m[2]))
	}

	return p.errorf("unparsable shell-variable assignment: %q", line)
}

func (p *parser) consumeBody(raw string) error {
	p.depth += strings.Count(raw, "{") - strings.Count(raw, "}")
	if p.depth > 0 {
		p.body = append(p.body, raw)
		return nil
	}

	// The closing line may carry trailing statements before the final brace.
	closing := strings.TrimSpace(raw)
	if closing != "}" {
		if idx := strings.LastIndex(raw, "}"); idx >= 0 {
			if rest := strings.TrimSpace(raw[:idx]); rest != "" {
				p.body = append(p.body, rest)
			}
		}
	}
	p.inFunc = false
	return p.setStage(p.funcName, strings.Join(p.body, "\n"))
}

func (p *parser) assign(key, value string) error {
	if key == "name" {
		if value == "" {
			return p.errorf("empty recipe name")
		}
		if p.cur != nil {
			if err := p.finalize(); err != nil {
				return err
			}
		}
		p.cur = &Recipe{Name: value, Revision: 1, File: p.file, Line: p.line}
		return nil
	}

	if p.cur == nil {
		return p.errorf("assignment %q before any name= assignment", key)
	}

	switch key {
	case "version":
		p.cur.Version = value
	case "revision":
		rev, err := strconv.Atoi(value)
		if err != nil || rev < 1 {
			return p.errorf("revision must be a positive integer, got %q", value)
		}
		p.cur.Revision = rev
	case "tarball_url":
		p.cur.TarballURL = value
	case "tarball_blake2b":
		p.cur.TarballBLAKE2B = strings.ToLower(value)
	case "source_hostdeps":
		p.cur.SourceHostDeps = strings.Fields(value)
	case "source_imagedeps":
		p.cur.SourceImageDeps = strings.Fields(value)
	case "hostdeps":
		p.cur.HostDeps = strings.Fields(value)
	case "imagedeps":
		p.cur.ImageDeps = strings.Fields(value)
	case "deps":
		p.cur.Deps = strings.Fields(value)
	case "source_deps":
		p.cur.SourceDeps = strings.Fields(value)
	default:
		// Recipes are free to define helper variables for their own stage
		// bodies; they are not part of the orchestrator contract.
	}
	return nil
}

func (p *parser) setStage(name, body string) error {
	switch name {
	case "regenerate":
		if p.cur.Regenerate != "" {
			return p.errorf("duplicate regenerate() for recipe %q", p.cur.Name)
		}
		p.cur.Regenerate = body
	case "build":
		if p.cur.Build != "" {
			return p.errorf("duplicate build() for recipe %q", p.cur.Name)
		}
		p.cur.Build = body
	case "package":
		if p.cur.Package != "" {
			return p.errorf("duplicate package() for recipe %q", p.cur.Name)
		}
		p.cur.Package = body
	default:
		// Helper functions are allowed but invisible to the orchestrator.
	}
	return nil
}

func (p *parser) finalize() error {
	r := p.cur
	p.cur = nil

	if r.Version == "" {
		return &ParseError{File: r.File, Line: r.Line, Msg: fmt.Sprintf("recipe %q is missing version", r.Name)}
	}
	if r.Build == "" {
		return &ParseError{File: r.File, Line: r.Line, Msg: fmt.Sprintf("recipe %q is missing build()", r.Name)}
	}
	if r.Package == "" {
		return &ParseError{File: r.File, Line: r.Line, Msg: fmt.Sprintf("recipe %q is missing package()", r.Name)}
	}
	if r.TarballURL != "" && r.TarballBLAKE2B == "" {
		return &ParseError{File: r.File, Line: r.Line, Msg: fmt.Sprintf("recipe %q has tarball_url but no tarball_blake2b", r.Name)}
	}

	p.recipes = append(p.recipes, r)
	return nil
}

func (p *parser) finish() ([]*Recipe, error) {
	if p.inFunc {
		return nil, &ParseError{File: p.file, Line: p.funcLine, Msg: fmt.Sprintf("unterminated function %q", p.funcName)}
	}
	if p.cur != nil {
		if err := p.finalize(); err != nil {
			return nil, err
		}
	}
	if len(p.recipes) == 0 {
		return nil, &ParseError{File: p.file, Msg: "no recipe definitions found"}
	}
	return p.recipes, nil
}

// unquote strips one layer of matching single or double quotes. Recipe
// values keep ${...} references literal; expansion happens when the value is
// consumed, not at parse time.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
