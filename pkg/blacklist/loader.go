package blacklist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrUnknownKind    = errors.New(`unknown kind of pattern, expected "literal"/"regex"`)
	ErrMissingFile    = errors.New("unexpected end of arguments, expected file")
	ErrEmptyFileName  = errors.New("illegal empty string, expected file")
	ErrFileAccess     = errors.New("inaccessible file")
	ErrFileRead       = errors.New("file read error")
	ErrInvalidPattern = errors.New("invalid regular expression")
)

// Sources reported in LoadError.
const (
	SourceArgument = "CLI argument"
	SourceConfig   = "blacklist entry"
)

// LoadError reports which argument (or config entry) and which line of its
// file could not be loaded.
type LoadError struct {
	Source   string
	Position int // 1-based position of the offending argument or entry
	Line     int // 1-based line in the pattern file, 0 if not line specific
	Reason   error
	Cause    error
}

func (e *LoadError) Error() string {
	var where string
	if e.Line > 0 {
		where = fmt.Sprintf("%s #%d, line #%d", e.Source, e.Position, e.Line)
	} else {
		where = fmt.Sprintf("%s #%d", e.Source, e.Position)
	}

	reason := e.Reason.Error()
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", reason, where, e.Cause)
	}
	return fmt.Sprintf("%s (%s)", reason, where)
}

func (e *LoadError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// Loader accumulates matchers from pattern files in the order they are added.
// Any failure is final: a partially loaded blacklist must never be served.
type Loader struct {
	engine   Engine
	matchers []Matcher
}

// NewLoader returns a Loader compiling regex patterns with engine, or RE2 if nil.
func NewLoader(engine Engine) *Loader {
	if engine == nil {
		engine = RE2
	}
	return &Loader{engine: engine}
}

// LoadArgs consumes "<kind> <file>" pairs. offset is the number of
// command-line arguments preceding args, so reported positions match os.Args.
func (l *Loader) LoadArgs(args []string, offset int) error {
	for i := 0; i < len(args); i += 2 {
		kindPos := offset + i + 1
		kind := Kind(args[i])
		if kind != KindLiteral && kind != KindRegex {
			return &LoadError{Source: SourceArgument, Position: kindPos, Reason: ErrUnknownKind}
		}
		if i+1 >= len(args) {
			return &LoadError{Source: SourceArgument, Position: kindPos, Reason: ErrMissingFile}
		}
		if err := l.LoadFile(SourceArgument, kindPos+1, kind, args[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads one pattern per line from path. Blank lines are skipped;
// line numbers in errors count them.
func (l *Loader) LoadFile(source string, position int, kind Kind, path string) error {
	fail := func(line int, reason, cause error) error {
		return &LoadError{Source: source, Position: position, Line: line, Reason: reason, Cause: cause}
	}

	if kind != KindLiteral && kind != KindRegex {
		return fail(0, ErrUnknownKind, nil)
	}
	if path == "" {
		return fail(0, ErrEmptyFileName, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(0, ErrFileAccess, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return fail(lineNo, ErrFileRead, err)
		}
		if line == "" && err == io.EOF {
			return nil
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			m, compileErr := l.compile(kind, line)
			if compileErr != nil {
				return fail(lineNo, ErrInvalidPattern, compileErr)
			}
			l.matchers = append(l.matchers, m)
		}

		if err == io.EOF {
			return nil
		}
	}
}

func (l *Loader) compile(kind Kind, line string) (Matcher, error) {
	if kind == KindLiteral {
		return Literal{Text: line}, nil
	}
	re, err := l.engine.Compile(line)
	if err != nil {
		return nil, err
	}
	return Pattern{Expr: re}, nil
}

// List returns the matchers loaded so far.
func (l *Loader) List() *List {
	return NewList(l.matchers...)
}
