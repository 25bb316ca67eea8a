package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/projecthub/services/auth/client/session"
)

// lineSource turns terminal input into keydown events. Each line typed counts
// as one trusted interaction.
type lineSource struct {
	mu      sync.Mutex
	handler func(session.Event)
}

func (s *lineSource) Subscribe(names []session.EventName, handler func(session.Event)) func() {
	for _, n := range names {
		if n == session.EventKeyDown {
			s.mu.Lock()
			s.handler = handler
			s.mu.Unlock()
			break
		}
	}
	return func() {
		s.mu.Lock()
		s.handler = nil
		s.mu.Unlock()
	}
}

func (s *lineSource) emit() {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(session.Event{Name: session.EventKeyDown, Trusted: true})
	}
}

func sessionCmd(flags *globalFlags) *cobra.Command {
	creds := &credentials{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Log in and keep an interactive session alive",
		Long: `Logs in and runs the session monitor until it logs out.

Every line typed on stdin counts as activity. Type "continue" to dismiss
the inactivity warning, "status" to print the session, or "logout" to end
it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			email, password, err := creds.resolve()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			res, err := e.api.Login(ctx, email, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			src := &lineSource{}
			mon := session.NewMonitor(*e.cfg, session.MonitorOptions{
				API:    e.api,
				Source: src,
				Logger: e.logger,
				Navigator: session.NavigatorFunc(func(route string) {
					fmt.Fprintf(out, "session ended, redirecting to %s\n", route)
					cancel()
				}),
			})
			defer mon.OnChange(func(s session.Snapshot) { printSnapshot(out, s) })()

			mon.Start(ctx, *res)
			return runSession(ctx, mon, src, cmd.InOrStdin(), out)
		},
	}
	creds.bind(cmd)
	return cmd
}

func runSession(ctx context.Context, mon *session.Monitor, src *lineSource, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed: end the session as if the user logged out.
				return mon.Logout(context.WithoutCancel(ctx))
			}
			switch line {
			case "continue":
				if err := mon.Continue(ctx); err != nil {
					fmt.Fprintf(out, "continue: %v\n", err)
				}
			case "logout":
				return mon.Logout(context.WithoutCancel(ctx))
			case "status":
				printSnapshot(out, mon.Snapshot())
			default:
				src.emit()
			}
		}
	}
}

func printSnapshot(w io.Writer, s session.Snapshot) {
	switch s.State {
	case session.StateWarning:
		left := time.Until(s.AutoLogoutDeadline).Round(time.Second)
		fmt.Fprintf(w, "[%s] inactive; logging out in %s unless you type \"continue\"\n", s.State, left)
	case session.StateActive:
		name := ""
		if s.User != nil {
			name = s.User.Email
		}
		fmt.Fprintf(w, "[%s] %s, access token valid until %s\n", s.State, name, s.AccessExpiresAt.Local().Format(time.Kitchen))
	default:
		fmt.Fprintf(w, "[%s]\n", s.State)
	}
}
