package notify

import (
	"strings"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
)

// TemplateStore resolves a (kind, channel, language) triple to its template.
type TemplateStore interface {
	Lookup(kind string, channel Channel, language string) (*NotificationTemplate, error)
}

// Render substitutes every {placeholder} in tmpl's title and body patterns
// with the matching key from payload. A placeholder absent from payload
// fails the render rather than leaving the literal token or a blank in the
// delivered message.
func Render(tmpl *NotificationTemplate, payload map[string]string) (RenderedMessage, error) {
	title, err := substitute(tmpl.TitlePattern, payload)
	if err != nil {
		return RenderedMessage{}, err
	}
	body, err := substitute(tmpl.BodyPattern, payload)
	if err != nil {
		return RenderedMessage{}, err
	}
	return RenderedMessage{Title: title, Body: body, Markup: tmpl.Markup}, nil
}

// substitute walks pattern once, replacing each {name} token. It does not
// use text/template: the placeholder syntax is a flat key lookup, not
// Go template actions, and a missing key must be a typed error rather than
// text/template's "no value" zero-value behaviour.
func substitute(pattern string, payload map[string]string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(pattern) {
		open := strings.IndexByte(pattern[i:], '{')
		if open == -1 {
			out.WriteString(pattern[i:])
			break
		}
		out.WriteString(pattern[i : i+open])
		start := i + open + 1
		close := strings.IndexByte(pattern[start:], '}')
		if close == -1 {
			return "", errors.InvalidInput("template", "unterminated placeholder")
		}
		name := pattern[start : start+close]
		value, ok := payload[name]
		if !ok {
			return "", errors.InvalidInput("template", "missing placeholder value for "+name)
		}
		out.WriteString(value)
		i = start + close + 1
	}
	return out.String(), nil
}
