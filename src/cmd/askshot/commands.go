package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"askshot/src/api"
	"askshot/src/auth"
	"askshot/src/chat"
	"askshot/src/clipboard"
	"askshot/src/popup"
	"askshot/src/singleinstance"
	"askshot/src/store"
)

func newCaptureCmd(a *app) *cobra.Command {
	var copyImage bool
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Start a region selection in the active tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			delegated, _, err := a.delegate(cmd.Context(), singleinstance.Request{Command: singleinstance.CommandCapture})
			if err != nil {
				return err
			}
			if delegated {
				fmt.Fprintln(cmd.OutOrStdout(), "Selection started in the resident's browser")
				return nil
			}

			env, err := a.env(copyImage)
			if err != nil {
				return err
			}
			defer env.Close()

			image, err := captureOnce(cmd.Context(), env)
			if err != nil {
				return err
			}
			if copyImage {
				if err := clipboard.WriteImage(image); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Screenshot saved")
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyImage, "copy", false, "Also copy the captured image to the clipboard")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var toClipboard bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the current screenshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			delegated, text, err := a.delegate(cmd.Context(), singleinstance.Request{
				Command:        singleinstance.CommandAsk,
				OutputToStdout: !toClipboard,
				Question:       question,
			})
			if err != nil {
				return err
			}
			if delegated {
				if !toClipboard {
					fmt.Fprintln(cmd.OutOrStdout(), text)
				}
				return nil
			}

			env, err := a.env(toClipboard)
			if err != nil {
				return err
			}
			defer env.Close()

			var target chat.ResultTarget = chat.StdoutTarget{Writer: cmd.OutOrStdout()}
			if toClipboard {
				target = chat.ClipboardTarget{}
			}
			res, err := chat.Ask(cmd.Context(), question, chat.Options{
				Deadline: env.Config.RequestTimeout(),
				Analyzer: env.API,
				UI:       env.UI,
				Target:   target,
			})
			if errors.Is(err, api.ErrNoCredits) {
				return errors.New(popup.NoCreditsMessage)
			}
			if err != nil {
				return err
			}
			if res.FreeTrialsLeft != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Free questions left: %d\n", *res.FreeTrialsLeft)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&toClipboard, "clipboard", false, "Copy the answer to the clipboard instead of printing it")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show and delete past screenshots",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List past screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			shots, err := env.API.Screenshots(cmd.Context())
			if err != nil {
				return err
			}
			if len(shots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No screenshots yet")
				return nil
			}
			for _, s := range shots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.ImageURL)
			}
			return nil
		},
	}

	var open bool
	show := &cobra.Command{
		Use:   "show <screenshot-id>",
		Short: "Show the conversation about a screenshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			detail, err := env.API.ScreenshotQuestions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !open {
				printConversation(cmd.OutOrStdout(), detail)
				return nil
			}

			shot := api.Screenshot{ID: args[0]}
			if detail.Screenshot != nil {
				shot = *detail.Screenshot
			}
			m := popup.NewModel(env.UI)
			if err := m.SelectFromHistory(cmd.Context(), shot, staticHistory{detail}); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), m.Snapshot().Transcript())
			return nil
		},
	}
	show.Flags().BoolVar(&open, "open", false, "Make this screenshot the current one")

	del := &cobra.Command{
		Use:   "delete <screenshot-id>",
		Short: "Delete a screenshot and its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.API.DeleteScreenshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			// Forget the deleted screenshot if it is the current one.
			if id, ok, err := env.UI.ScreenshotID(cmd.Context()); err == nil && ok && id == args[0] {
				if err := env.UI.ClearScreenshot(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted screenshot %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

// staticHistory serves an already fetched conversation.
type staticHistory struct{ detail *api.ScreenshotDetail }

func (h staticHistory) ScreenshotQuestions(ctx context.Context, id string) (*api.ScreenshotDetail, error) {
	return h.detail, nil
}

func printConversation(w io.Writer, detail *api.ScreenshotDetail) {
	if len(detail.Questions) == 0 {
		fmt.Fprintln(w, "No questions yet")
		return
	}
	for _, q := range detail.Questions {
		fmt.Fprintf(w, "[%s] %s\nQ: %s\nA: %s\n\n", q.ID, q.CreatedAt.Format(time.RFC3339), q.Question, q.Answer)
	}
}

func newQuestionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "question",
		Short: "Manage single questions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <question-id>",
		Short: "Delete one question from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.API.DeleteQuestion(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted question %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newCreditsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show remaining free questions and plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			credits, err := env.API.Credits(cmd.Context())
			if err != nil {
				return err
			}
			tier, err := env.API.Tier(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan: %s\nFree questions left: %d\n", tier.Tier, credits.FreeTrialsLeft)
			if credits.IsExpired {
				fmt.Fprintln(cmd.OutOrStdout(), popup.NoCreditsMessage)
			}
			return nil
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session issued by the sign-in page",
		Long: "Open the printed sign-in URL, then pass the session JSON (or the bare access token)\n" +
			"with --session or on stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			input := session
			if input == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Sign in at %s\nPaste the session and press Ctrl+D:\n", auth.SignInURL(env.Config.APIBaseURL))
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				input = string(data)
			}

			s, err := auth.ParseSession(input)
			if err != nil {
				return err
			}
			if s.Expired(time.Now()) {
				return errors.New("session is already expired")
			}
			if err := env.Auth.Save(cmd.Context(), s); err != nil {
				return err
			}
			name := "you"
			if s.User != nil && s.User.Name != "" {
				name = s.User.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session JSON or access token")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session and the current screenshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out. To end the web session too, open %s\n", auth.SignOutURL(env.Config.APIBaseURL))
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the current screenshot and return to the capture view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := popup.NewModel(env.UI).Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared")
			return nil
		},
	}
}

func newViewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view [capture|chat|history]",
		Short: "Show the popup state, or switch its view",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(false)
			if err != nil {
				return err
			}
			defer env.Close()

			m := popup.NewModel(env.UI)
			if len(args) == 1 {
				v, err := store.ParseView(args[0])
				if err != nil {
					return err
				}
				return m.SetView(cmd.Context(), v)
			}

			var hist popup.HistoryLoader
			if ok, _ := env.Auth.IsAuthenticated(cmd.Context()); ok {
				hist = env.API
			}
			if err := m.Load(cmd.Context(), hist); err != nil {
				return err
			}
			snap := m.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "View: %s\n", snap.View)
			if snap.Screenshot != "" {
				id := snap.ScreenshotID
				if id == "" {
					id = "not saved yet"
				}
				fmt.Fprintf(out, "Screenshot: %s (%s)\n", id, imageSummary(snap.Screenshot))
			}
			fmt.Fprint(out, snap.Transcript())
			return nil
		},
	}
}

func imageSummary(image string) string {
	if strings.HasPrefix(image, "data:") {
		return fmt.Sprintf("%d bytes inline", len(image))
	}
	return image
}
