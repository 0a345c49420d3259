package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for missing credentials.
type Prompter interface {
	Username() (string, error)
	Password(username string) (string, error)
}

// TerminalPrompter reads from stdin. Passwords are read without echo when
// stdin is a terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminalPrompter prompts on stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Username() (string, error) {
	fmt.Fprint(p.Out, "Enter username: ")
	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return line, nil
}

func (p *TerminalPrompter) Password(username string) (string, error) {
	fmt.Fprintf(p.Out, "Enter password for %s: ", username)

	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		line, err := p.readLine()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return line, nil
	}

	pwd, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pwd), nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	text, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
