package btchat

import (
	"fmt"
	"strings"
)

// Mode selects how a user message is handled.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeGenerate Mode = "generate"
	ModeModify   Mode = "modify"
	ModeChat     Mode = "chat"
)

var (
	generateKeywords = []string{"generate bt", "generate behavior tree", "extract bt", "extract behavior tree"}
	modifyKeywords   = []string{"modify", "update", "edit", "change", "delete"}
)

// DetectMode classifies free text by keyword. Generation keywords win over
// modification keywords; anything else is chat. Negations are not understood:
// "don't modify" is Modify.
func DetectMode(text string) Mode {
	lower := strings.ToLower(text)
	if containsAny(lower, generateKeywords) {
		return ModeGenerate
	}
	if containsAny(lower, modifyKeywords) {
		return ModeModify
	}
	return ModeChat
}

// ResolveMode returns pinned unless it is empty or ModeAuto, in which case
// the mode is detected from text.
func ResolveMode(pinned Mode, text string) Mode {
	if pinned == "" || pinned == ModeAuto {
		return DetectMode(text)
	}
	return pinned
}

// ParseMode parses a mode name. The empty string parses as ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeGenerate, ModeModify, ModeChat:
		return m, nil
	default:
		return "", fmt.Errorf("btchat: unknown mode %q", s)
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
