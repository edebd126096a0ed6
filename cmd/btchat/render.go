package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleUser  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleBot   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))

	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// renderer prints replies either as plain text or styled for a terminal.
type renderer struct {
	out      io.Writer
	raw      bool
	markdown *glamour.TermRenderer
}

func newRenderer(out io.Writer, raw bool) *renderer {
	r := &renderer{out: out, raw: raw}
	if raw {
		return r
	}
	md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		r.markdown = md
	}
	return r
}

func (r *renderer) reply(reply engine.Reply) {
	if r.raw {
		fmt.Fprintln(r.out, reply.Text)
		return
	}

	switch reply.Kind {
	case engine.KindWarning:
		warnColor.Fprintln(r.out, "⚠️  "+reply.Text)
	case engine.KindError:
		errColor.Fprintln(r.out, reply.Text)
	case engine.KindArtifact:
		fmt.Fprintln(r.out, styleTitle.Render("Behavior tree"))
		fmt.Fprint(r.out, r.renderMarkdown("```xml\n"+reply.Text+"\n```"))
		if !reply.HasFragment {
			warnColor.Fprintln(r.out, "⚠️  the response did not contain a <root> element")
		}
		r.usage(reply.Usage)
	default:
		fmt.Fprint(r.out, r.renderMarkdown(reply.Text))
		r.usage(reply.Usage)
	}
}

func (r *renderer) usage(u btchat.Usage) {
	if u.IsZero() {
		return
	}
	fmt.Fprintln(r.out, styleMuted.Render(fmt.Sprintf("%d prompt + %d response tokens", u.PromptTokens, u.ResponseTokens)))
}

func (r *renderer) history(msgs []btchat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, styleMuted.Render("(no messages)"))
		return
	}
	for _, m := range msgs {
		if r.raw {
			fmt.Fprintf(r.out, "[%d] %s: %s\n", m.Seq, m.Role, m.Content)
			continue
		}
		style := styleUser
		if m.Role == btchat.RoleAssistant {
			style = styleBot
		}
		fmt.Fprintf(r.out, "%s %s\n%s\n\n", style.Render(strings.ToUpper(string(m.Role))), styleMuted.Render(m.CreatedAt.Format("2006-01-02 15:04:05")), m.Content)
	}
}

func (r *renderer) renderMarkdown(s string) string {
	if r.markdown == nil {
		return s + "\n"
	}
	out, err := r.markdown.Render(s)
	if err != nil {
		return s + "\n"
	}
	return out
}
