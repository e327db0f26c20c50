package backend

import (
	"strings"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

// Node is one element of a parsed run-command template: either literal text
// or a parameter substitution. Parsing up front into this tagged AST avoids
// any free-form eval of the template string, per spec.md §9's design note.
type Node struct {
	Literal string // valid when IsSubstitution is false

	IsSubstitution bool
	Prefix         string
	Name           string
	Default        string
	HasDefault     bool
	Doc            string
}

// ParseTemplate parses a run_command template of the grammar
// "{prologue%%name[:default][!doc]}". Unknown forms are rejected here
// rather than at render time.
func ParseTemplate(template string) ([]Node, error) {
	var nodes []Node
	rest := template

	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			if rest != "" {
				nodes = append(nodes, Node{Literal: rest})
			}
			return nodes, nil
		}
		if start > 0 {
			nodes = append(nodes, Node{Literal: rest[:start]})
		}
		rest = rest[start+1:]

		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, sjeferr.Wrap(sjeferr.ErrConfig, "unterminated template substitution in "+template, nil)
		}
		body := rest[:end]
		rest = rest[end+1:]

		node, err := parseSubstitution(body)
		if err != nil {
			return nil, sjeferr.Wrap(sjeferr.ErrConfig, "invalid template substitution \"{"+body+"}\" in "+template, err)
		}
		nodes = append(nodes, node)
	}
}

func parseSubstitution(body string) (Node, error) {
	sep := strings.Index(body, "%%")
	if sep < 0 {
		return Node{}, errNoMarker
	}
	prefix := body[:sep]
	rest := body[sep+2:]

	var doc string
	if bang := strings.IndexByte(rest, '!'); bang >= 0 {
		doc = rest[bang+1:]
		rest = rest[:bang]
	}

	name := rest
	var def string
	hasDefault := false
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		name = rest[:colon]
		def = rest[colon+1:]
		hasDefault = true
	}

	if name == "" {
		return Node{}, errEmptyName
	}

	return Node{
		IsSubstitution: true,
		Prefix:         prefix,
		Name:           name,
		Default:        def,
		HasDefault:     hasDefault,
		Doc:            doc,
	}, nil
}

var (
	errNoMarker  = sjeferr.Wrap(sjeferr.ErrConfig, "missing %% marker", nil)
	errEmptyName = sjeferr.Wrap(sjeferr.ErrConfig, "empty parameter name", nil)
)

// Render expands a parsed template, looking up each substitution's value
// via lookup(name). A substitution elides entirely (prologue included) when
// its value is empty and it has no default.
func Render(nodes []Node, lookup func(name string) (string, bool)) string {
	var b strings.Builder
	for _, n := range nodes {
		if !n.IsSubstitution {
			b.WriteString(n.Literal)
			continue
		}
		value, ok := lookup(n.Name)
		if (!ok || value == "") && n.HasDefault {
			value = n.Default
			ok = true
		}
		if !ok || value == "" {
			continue
		}
		b.WriteString(n.Prefix)
		b.WriteString(value)
	}
	return b.String()
}
