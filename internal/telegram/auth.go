package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// CodeProvider supplies the login code Telegram sends to the account.
type CodeProvider interface {
	Code(ctx context.Context) (string, error)
}

// ErrNoCodeWaiter is returned by AuthCodes.Submit when no login is waiting.
var ErrNoCodeWaiter = errors.New("telegram client not ready to receive code")

// AuthCodes hands codes submitted over the HTTP API to a waiting login flow.
type AuthCodes struct {
	ch      chan string
	timeout time.Duration
}

func NewAuthCodes() *AuthCodes {
	return &AuthCodes{ch: make(chan string), timeout: 5 * time.Second}
}

// Code blocks until a code is submitted.
func (a *AuthCodes) Code(ctx context.Context) (string, error) {
	select {
	case code := <-a.ch:
		return strings.TrimSpace(code), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Submit delivers code to the waiting login flow.
func (a *AuthCodes) Submit(ctx context.Context, code string) error {
	select {
	case a.ch <- code:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.timeout):
		return ErrNoCodeWaiter
	}
}

// TerminalPrompt asks for the code on an interactive terminal.
type TerminalPrompt struct {
	In  io.Reader
	Out io.Writer
}

func (p TerminalPrompt) Code(ctx context.Context) (string, error) {
	fmt.Fprint(p.Out, "Enter the Telegram login code: ")

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			done <- result{err: fmt.Errorf("failed to read login code: %w", err)}
			return
		}
		done <- result{code: strings.TrimSpace(line)}
	}()

	select {
	case r := <-done:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
