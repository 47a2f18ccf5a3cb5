// Package prompt provides blocking confirmation prompts used before the web
// banner is available.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/artpar/mergedash/ports"
)

// Terminal asks on a line-oriented terminal and waits for the answer.
// Anything other than y or yes is a no.
type Terminal struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

// NewTerminal creates a prompt reading in and writing out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{reader: bufio.NewReader(in), out: out}
}

// Stdio prompts on the process's standard streams.
func Stdio() *Terminal {
	return NewTerminal(os.Stdin, os.Stderr)
}

// Confirm prints message and blocks until a line is read.
func (t *Terminal) Confirm(message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "? %s [y/N]: ", message)
	input, _ := t.reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// Decline answers no without asking. It is used when no terminal is
// attached, so a stale asset never leads to a reload nobody agreed to.
type Decline struct{}

// Confirm always returns false.
func (Decline) Confirm(string) bool { return false }

// Ensure interface compliance.
var (
	_ ports.Confirmer = (*Terminal)(nil)
	_ ports.Confirmer = Decline{}
)
