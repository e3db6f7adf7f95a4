package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// menu is the interactive front end: start a batch, show the gas price or
// exit. Errors of a single action are logged and the menu comes back.
type menu struct {
	app *app
	in  *bufio.Reader
	out io.Writer
}

func newMenu(a *app, in io.Reader, out io.Writer) *menu {
	return &menu{app: a, in: bufio.NewReader(in), out: out}
}

func (m *menu) run(ctx context.Context) error {
	for {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "1. Start batch")
		fmt.Fprintln(m.out, "2. Show current gas price")
		fmt.Fprintln(m.out, "3. Exit")

		choice, err := m.prompt("Select an option: ")
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			if err := m.app.session(ctx, m.confirmRetry); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.app.log.Error("Batch ended with error", "err", err)
			}
		case "2":
			_ = m.app.showGas(ctx)
		case "3", "q", "exit":
			m.app.log.Info("👋 Bye")
			return nil
		default:
			fmt.Fprintln(m.out, "Unknown option:", choice)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (m *menu) confirmRetry(n int) bool {
	fmt.Fprintln(m.out)
	fmt.Fprintf(m.out, "1. Retry %d failed and skipped accounts\n", n)
	fmt.Fprintln(m.out, "2. Stop")
	for {
		choice, err := m.prompt("Select an option (1-2): ")
		if err != nil {
			return false
		}
		switch choice {
		case "1":
			return true
		case "2", "3":
			return false
		}
		fmt.Fprintln(m.out, "Invalid choice, enter 1 or 2")
	}
}

func (m *menu) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	line, err := m.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "3", nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
