package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// emit writes v in the configured structured format, or calls table for the
// default human-readable view.
func (a *app) emit(w io.Writer, v any, table func() string) error {
	switch a.cfg.Output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, table())
		return err
	}
}

// userError turns err into the single status line shown to the user.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", api.StatusText(err))
}

// stdinConfirmer asks on stdout and reads y/N from in. Ctrl+C while waiting
// counts as a refusal.
type stdinConfirmer struct {
	in  io.Reader
	out io.Writer
	yes bool
}

func newConfirmer(cmd *cobra.Command, yes bool) *stdinConfirmer {
	return &stdinConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), yes: yes}
}

func (c *stdinConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if c.yes {
		return true, nil
	}
	fmt.Fprintf(c.out, "%s [y/N] ", prompt)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, nil
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

var _ listing.Confirmer = (*stdinConfirmer)(nil)

// printDeleted reports a bulk delete, noting ids the backend did not find.
func printDeleted(w io.Writer, deleted, requested int) {
	fmt.Fprintf(w, "Deleted %d upload(s).\n", deleted)
	if missing := requested - deleted; missing > 0 {
		fmt.Fprintf(w, "%d selected upload(s) were not found and nothing was removed for them.\n", missing)
	}
}

// readSecret prompts for a value without echo when in is a terminal, and
// falls back to a plain line read for piped input.
func readSecret(ctx context.Context, out io.Writer, in io.Reader, prompt string) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return readLine(ctx, out, in, prompt)
	}

	fmt.Fprint(out, prompt)
	type result struct {
		secret []byte
		err    error
	}
	answer := make(chan result, 1)
	go func() {
		secret, err := term.ReadPassword(f.Fd())
		answer <- result{secret, err}
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", ctx.Err()
	case r := <-answer:
		fmt.Fprintln(out)
		if r.err != nil {
			return "", fmt.Errorf("failed to read password: %w", r.err)
		}
		return string(r.secret), nil
	}
}

// readLine prompts for a single value on stdin.
func readLine(ctx context.Context, out io.Writer, in io.Reader, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-answer:
		return strings.TrimRight(line, "\r\n"), nil
	}
}
