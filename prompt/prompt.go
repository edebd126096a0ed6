// Package prompt holds the fixed instruction templates used for each kind
// of interaction.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/meikuraledutech/btchat"
)

// Kind names a template.
type Kind string

const (
	KindGenerate        Kind = "generate"
	KindModify          Kind = "modify"
	KindChat            Kind = "chat"
	KindGenerateFromRow Kind = "generate_from_row"
)

// Input fills the user slot. Each template reads only the fields it needs.
type Input struct {
	Description  string
	Artifact     string
	Instruction  string
	Message      string
	Requirements string
}

// Prompt is a fully assembled request: system instruction, history turns
// and the new user content.
type Prompt struct {
	Kind    Kind
	System  string
	History []btchat.Message
	User    string
}

// Template is one entry of a Set.
type Template struct {
	Kind           Kind
	System         string
	IncludeHistory bool
	User           *template.Template
}

// NewTemplate parses user as the user slot of a template.
func NewTemplate(kind Kind, system, user string, includeHistory bool) (Template, error) {
	t, err := template.New(string(kind)).Option("missingkey=error").Parse(user)
	if err != nil {
		return Template{}, fmt.Errorf("btchat: parse %s template: %w", kind, err)
	}
	return Template{Kind: kind, System: system, IncludeHistory: includeHistory, User: t}, nil
}

// Set is an immutable collection of templates keyed by kind.
type Set struct {
	templates map[Kind]Template
}

// NewSet builds a set from templates. Later entries replace earlier ones
// with the same kind.
func NewSet(templates ...Template) *Set {
	s := &Set{templates: make(map[Kind]Template, len(templates))}
	for _, t := range templates {
		s.templates[t.Kind] = t
	}
	return s
}

// Template returns the template registered for kind.
func (s *Set) Template(kind Kind) (Template, bool) {
	t, ok := s.templates[kind]
	return t, ok
}

// Build renders the template for kind. History is attached only when the
// template has a history slot.
func (s *Set) Build(kind Kind, in Input, history []btchat.Message) (Prompt, error) {
	t, ok := s.templates[kind]
	if !ok {
		return Prompt{}, fmt.Errorf("btchat: no %q template", kind)
	}

	var buf bytes.Buffer
	if err := t.User.Execute(&buf, in); err != nil {
		return Prompt{}, fmt.Errorf("btchat: render %s template: %w", kind, err)
	}
	user := strings.TrimSpace(buf.String())
	if user == "" {
		return Prompt{}, btchat.ErrEmptyPrompt
	}

	p := Prompt{Kind: kind, System: t.System, User: user}
	if t.IncludeHistory && len(history) > 0 {
		p.History = history
	}
	return p, nil
}

var defaultSet = NewSet(
	mustTemplate(KindGenerate, generateSystem, generateUser, true),
	mustTemplate(KindModify, generateSystem, modifyUser, true),
	mustTemplate(KindChat, chatSystem, chatUser, true),
	mustTemplate(KindGenerateFromRow, generateSystem, fromRowUser, false),
)

// Default returns the built-in template set.
func Default() *Set {
	return defaultSet
}

func mustTemplate(kind Kind, system, user string, includeHistory bool) Template {
	t, err := NewTemplate(kind, system, user, includeHistory)
	if err != nil {
		panic(err)
	}
	return t
}
