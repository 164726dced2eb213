// Package chat runs one question against the current screenshot.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"askshot/src/api"
	"askshot/src/clipboard"
	"askshot/src/singleinstance"
	"askshot/src/store"
)

// ErrNoScreenshot is returned when there is nothing to ask about.
var ErrNoScreenshot = errors.New("no screenshot captured")

// Analyzer submits questions to the backend
type Analyzer interface {
	Analyze(ctx context.Context, req api.AnalyzeRequest) (*api.AnalyzeResponse, error)
}

// ResultTarget receives the outcome of Ask
type ResultTarget interface {
	OnSuccess(answer string) error
	OnFailure(err error) error
}

type Options struct {
	Deadline time.Duration
	Analyzer Analyzer
	UI       *store.UIState
	Target   ResultTarget
}

type Result struct {
	Answer         string
	ScreenshotID   string
	FreeTrialsLeft *int
	IsExpired      bool
}

// Ask sends question with the stored screenshot. The server id returned for
// the first question is kept so later questions join the same conversation.
func Ask(ctx context.Context, question string, opts Options) (Result, error) {
	if opts.Analyzer == nil {
		return Result{}, errors.New("Analyzer is required")
	}
	if opts.UI == nil {
		return Result{}, errors.New("UI is required")
	}
	target := opts.Target
	if target == nil {
		target = discardTarget{}
	}

	question = strings.TrimSpace(question)
	if question == "" {
		err := errors.New("question is empty")
		_ = target.OnFailure(err)
		return Result{}, err
	}

	image, ok, err := opts.UI.Screenshot(ctx)
	if err != nil {
		_ = target.OnFailure(err)
		return Result{}, err
	}
	if !ok || image == "" {
		_ = target.OnFailure(ErrNoScreenshot)
		return Result{}, ErrNoScreenshot
	}
	id, _, err := opts.UI.ScreenshotID(ctx)
	if err != nil {
		_ = target.OnFailure(err)
		return Result{}, err
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := opts.Analyzer.Analyze(jobCtx, api.AnalyzeRequest{Image: image, Question: question, ScreenshotID: id})
	if err != nil {
		_ = target.OnFailure(err)
		return Result{}, err
	}

	if resp.ScreenshotID != "" && id == "" {
		if err := opts.UI.SetScreenshotID(ctx, resp.ScreenshotID); err != nil {
			_ = target.OnFailure(err)
			return Result{}, fmt.Errorf("failed to save screenshot id: %w", err)
		}
		id = resp.ScreenshotID
	}

	if err := target.OnSuccess(resp.Answer); err != nil {
		_ = target.OnFailure(err)
		return Result{}, err
	}

	return Result{
		Answer:         resp.Answer,
		ScreenshotID:   id,
		FreeTrialsLeft: resp.FreeTrialsLeft,
		IsExpired:      resp.IsExpired || (resp.FreeTrialsLeft != nil && *resp.FreeTrialsLeft <= 0),
	}, nil
}

type discardTarget struct{}

func (discardTarget) OnSuccess(string) error { return nil }
func (discardTarget) OnFailure(error) error  { return nil }

type ClipboardTarget struct{}

func (ClipboardTarget) OnSuccess(answer string) error {
	return clipboard.Write(answer)
}

func (ClipboardTarget) OnFailure(err error) error {
	return nil
}

type StdoutTarget struct {
	Writer io.Writer
}

func (t StdoutTarget) OnSuccess(answer string) error {
	w := t.Writer
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintln(w, answer)
	return err
}

func (t StdoutTarget) OnFailure(err error) error {
	return nil
}

// DelegatedTarget answers a client of the resident instance.
type DelegatedTarget struct {
	Conn           singleinstance.Conn
	OutputToStdout bool
}

func (t DelegatedTarget) OnSuccess(answer string) error {
	if t.Conn == nil {
		return errors.New("delegated target missing connection")
	}
	if t.OutputToStdout {
		return t.Conn.RespondSuccess(answer)
	}
	if err := clipboard.Write(answer); err != nil {
		return fmt.Errorf("clipboard error: %w", err)
	}
	return t.Conn.RespondSuccess("")
}

func (t DelegatedTarget) OnFailure(err error) error {
	if t.Conn == nil {
		return nil
	}
	if err == nil {
		return t.Conn.RespondError("unknown chat error")
	}
	return t.Conn.RespondError(err.Error())
}
