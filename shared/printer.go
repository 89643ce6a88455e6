package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.WriteCloser
}

func NewWriteCloser(w io.WriteCloser) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return wc.w.Write([]byte(s))
}

func (wc *WriteCloser) Close() error {
	return wc.w.Close()
}

// Printer is the operator-facing console. Transcript deltas are streamed
// through it without a trailing newline, so writes from several goroutines
// must not interleave mid-line.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{
		indStr: indentString,
		hooks:  hooks,
	}, nil
}

// Write prints s, indenting every line by ind levels.
func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(s, ind)
}

// Writeln is Write followed by a line break.
func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeLocked(s, ind); err != nil {
		return err
	}
	return p.emit("\n")
}

// Newline terminates a streamed line.
func (p *Printer) Newline() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emit("\n")
}

func (p *Printer) writeLocked(s string, ind int) error {
	indent := strings.Repeat(p.indStr, ind)
	firstLine := true
	for line := range strings.SplitSeq(s, "\n") {
		if !firstLine {
			line = "\n" + indent + line
		} else {
			firstLine = false
			line = indent + line
		}
		if err := p.emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) emit(s string) error {
	if s == "" {
		return nil
	}
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			return fmt.Errorf("on closing hook: %w", err)
		}
	}
	return nil
}
