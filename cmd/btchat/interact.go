package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/fragment"
)

func newGenerateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate a behavior tree from a mission description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.once(cmd, engine.Request{Mode: btchat.ModeGenerate, Input: strings.Join(args, " ")})
		},
	}
}

func newModifyCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "modify <instruction>",
		Short: "Modify the session's behavior tree, or the tree in --file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.Request{Mode: btchat.ModeModify, Input: strings.Join(args, " ")}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				req.Artifact = string(data)
			}
			return opts.once(cmd, req)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "XML file holding the tree to modify")
	return cmd
}

// once handles a single request and prints the reply. Warnings and errors
// are printed, not returned; an error reply sets a failing exit status.
func (o *rootOptions) once(cmd *cobra.Command, req engine.Request) error {
	return o.withApp(cmd, func(ctx context.Context, a *app) error {
		req.SessionID = o.sessionID
		reply := a.engine.Handle(ctx, req)
		newRenderer(cmd.OutOrStdout(), o.raw).reply(reply)
		if reply.Kind == engine.KindError {
			return errors.New(reply.Text)
		}
		return nil
	})
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Start an interactive session.

Every line is routed by --mode. With the default "auto", lines mentioning
"generate bt" or "extract behavior tree" produce a new tree, lines with
modify, update, edit, change or delete alter the current tree, and anything
else is a question about it.

Commands: /mode <auto|generate|modify|chat>, /reset, /history, /tree, /exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pinned, err := btchat.ParseMode(mode)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if mode == "" {
					if pinned, err = btchat.ParseMode(a.cfg.Engine.DefaultMode); err != nil {
						return err
					}
				}
				return runChat(ctx, a, opts.sessionID, pinned, newRenderer(cmd.OutOrStdout(), opts.raw))
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "routing mode: auto, generate, modify, chat (default engine.default_mode)")
	return cmd
}

func runChat(ctx context.Context, a *app, sessionID string, mode btchat.Mode, r *renderer) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".btchat_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptFor(mode),
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("btchat: init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(r.out, styleTitle.Render("btchat")+" "+styleMuted.Render("session "+btchat.SessionID(sessionID)+", /exit to quit"))

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, a, sessionID, line, &mode, r)
			if err != nil {
				errColor.Fprintln(r.out, engine.ErrorText(err))
			}
			if quit {
				return nil
			}
			rl.SetPrompt(promptFor(mode))
			continue
		}

		r.reply(a.engine.Handle(ctx, engine.Request{SessionID: sessionID, Mode: mode, Input: line}))
	}
}

func chatCommand(ctx context.Context, a *app, sessionID, line string, mode *btchat.Mode, r *renderer) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/exit", "/quit", "/q":
		return true, nil
	case "/mode":
		m, err := btchat.ParseMode(arg)
		if err != nil {
			return false, err
		}
		*mode = m
	case "/reset":
		if err := a.engine.Reset(ctx, sessionID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, styleMuted.Render("session cleared"))
	case "/history":
		msgs, err := a.engine.History(ctx, sessionID)
		if err != nil {
			return false, err
		}
		r.history(msgs)
	case "/tree":
		artifact, err := a.engine.CurrentArtifact(ctx, sessionID)
		if errors.Is(err, btchat.ErrNoPriorArtifact) {
			warnColor.Fprintln(r.out, "⚠️  "+engine.WarnGenerateFirst)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		r.reply(engine.Reply{Kind: engine.KindArtifact, Text: artifact.Content, HasFragment: fragment.Found(artifact.Content)})
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func promptFor(mode btchat.Mode) string {
	return fmt.Sprintf("[%s] > ", mode)
}
