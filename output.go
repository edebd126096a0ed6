package btchat

import (
	"encoding/json"
	"fmt"
)

// Output is the shape a provider returned its completion in. It is a closed
// set: Text, Reply and Fields.
type Output interface {
	isOutput()
}

// Text is a completion returned as a bare string.
type Text string

// Reply is a completion returned as a structured message with a content field.
type Reply struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Fields is a completion returned as a mapping. The text lives under the
// "content" key, or "response" for conversation-chain style endpoints.
type Fields map[string]any

func (Text) isOutput()   {}
func (Reply) isOutput()  {}
func (Fields) isOutput() {}

// Field keys looked up in Fields, in order.
var FieldKeys = []string{"content", "response"}

// OutputText extracts the plain text from any Output.
func OutputText(o Output) string {
	switch v := o.(type) {
	case nil:
		return ""
	case Text:
		return string(v)
	case Reply:
		return v.Content
	case *Reply:
		if v == nil {
			return ""
		}
		return v.Content
	case Fields:
		for _, key := range FieldKeys {
			val, ok := v[key]
			if !ok || val == nil {
				continue
			}
			if s, ok := val.(string); ok {
				return s
			}
			return fmt.Sprint(val)
		}
		data, err := json.Marshal(map[string]any(v))
		if err != nil {
			return fmt.Sprint(map[string]any(v))
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
