package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/view"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// chatCmd runs one dialogue session in the terminal
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an outfit consultation",
	Long: `Start an outfit consultation with the assistant.

Type a reply and press enter. While a proposal is on screen:
  /confirm   accept the proposal
  /another   ask for a different one
  /quit      leave the session`,
	RunE: runChatCmd,
}

func runChatCmd(cmd *cobra.Command, _ []string) error {
	cred, ok := deps.credentials.Get()
	if !ok {
		return errors.New("not logged in: run 'coordi login' first")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err := runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), chatOptions{
		Reasoner:  dialogue.NewRemoteReasoner(deps.gateway),
		Finalizer: deps.finalizer,
		Recorder:  deps.convlog.Recorder(cred.UserID, "cli"),
		Username:  cred.Username,
		Logger:    deps.logger,
	})
	if err == nil && deps.expired.Load() {
		return errors.New("session expired: run 'coordi login' again")
	}
	return err
}

type chatOptions struct {
	Reasoner  dialogue.Reasoner
	Finalizer dialogue.Finalizer
	Recorder  dialogue.TurnRecorder
	Username  string
	Logger    *slog.Logger
}

// runChat drives one session from in, rendering every state change to out.
// It returns when the dialogue is finalized, the session expires, the user
// quits or in is exhausted.
func runChat(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	r := newRenderer(out)
	ctrl := dialogue.NewController(dialogue.Options{
		ID:        uuid.NewString(),
		Reasoner:  opts.Reasoner,
		Finalizer: opts.Finalizer,
		Recorder:  opts.Recorder,
		Logger:    opts.Logger,
		OnChange: func(snap dialogue.Snapshot) {
			r.render(view.Project(snap, opts.Username))
		},
	})
	defer ctrl.Close()

	if done, err := settle(ctrl, ctrl.Start(ctx)); done {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(out, controlsHint(view.Project(ctrl.Snapshot(), opts.Username).Controls))
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		var err error
		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/confirm":
			err = ctrl.Confirm(ctx)
		case "/another":
			err = ctrl.Another(ctx)
		default:
			err = ctrl.Send(ctx, line)
		}
		if done, err := settle(ctrl, err); done {
			return err
		}
	}
}

// settle decides whether the loop ends after a turn. Failures other than
// expiry were already rendered as an assistant turn.
func settle(ctrl *dialogue.Controller, err error) (bool, error) {
	switch {
	case errors.Is(err, gateway.ErrSessionExpired):
		return true, nil
	case errors.Is(err, context.Canceled):
		return true, nil
	case errors.Is(err, dialogue.ErrFinalized), errors.Is(err, dialogue.ErrClosed):
		return true, nil
	}
	snap := ctrl.Snapshot()
	return snap.State == dialogue.StateFinalized || snap.Closed, nil
}
