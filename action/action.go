// Package action reads NATS action files.
//
// An action file is YAML. The top level is either a list of actions or a
// mapping with a default server and the list:
//
//	server: nats://localhost:4222
//	actions:
//	  - type: request
//	    subject: svc.echo
//	    payload: '{"hello":"world"}'
//	    headers:
//	      Trace-Id: "{{$uuid}}"
//	    timeout: 2s
//	  - type: reply
//	    subject: svc.echo
//	    template: "echo: {{request.body}}"
//
// Actions without a server inherit the document's. Every action records the
// line it starts on, which together with the file path identifies it across
// runs.
package action

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/natspad/errors"
)

// Type is the kind of interaction an action performs.
type Type string

// Action types.
const (
	Subscribe Type = "subscribe"
	Request   Type = "request"
	Publish   Type = "publish"
	Reply     Type = "reply"
	Pull      Type = "pull"
)

// Valid reports whether t is a known action type
func (t Type) Valid() bool {
	switch t {
	case Subscribe, Request, Publish, Reply, Pull:
		return true
	}
	return false
}

// Action is one interaction declared in a file.
type Action struct {
	Type     Type              `yaml:"type"`
	Name     string            `yaml:"name,omitempty"`
	Server   string            `yaml:"server,omitempty"`
	Subject  string            `yaml:"subject,omitempty"`
	Payload  *string           `yaml:"payload,omitempty"`
	Template *string           `yaml:"template,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  time.Duration     `yaml:"-"`
	Stream   string            `yaml:"stream,omitempty"`
	Consumer string            `yaml:"consumer,omitempty"`
	Batch    int               `yaml:"batch,omitempty"`

	// Line is the 1-based line the action starts on.
	Line int `yaml:"-"`
}

// PayloadText returns the payload or "" when absent
func (a Action) PayloadText() string {
	if a.Payload == nil {
		return ""
	}
	return *a.Payload
}

// rawAction mirrors Action with the timeout kept as text for parsing.
type rawAction struct {
	Action  `yaml:",inline"`
	Timeout string `yaml:"timeout,omitempty"`
}

// Document is a parsed action file.
type Document struct {
	Server  string
	Actions []Action
}

// Parse decodes an action file.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.WrapInvalid(err, "action", "Parse", "decode YAML")
	}

	doc := &Document{}
	if root.Kind == 0 || len(root.Content) == 0 {
		return doc, nil
	}

	top := root.Content[0]
	var list *yaml.Node
	switch top.Kind {
	case yaml.SequenceNode:
		list = top
	case yaml.MappingNode:
		for i := 0; i+1 < len(top.Content); i += 2 {
			key, val := top.Content[i], top.Content[i+1]
			switch key.Value {
			case "server":
				doc.Server = strings.TrimSpace(val.Value)
			case "actions":
				if val.Kind != yaml.SequenceNode {
					return nil, invalidAt(val.Line, "actions must be a list")
				}
				list = val
			default:
				return nil, invalidAt(key.Line, fmt.Sprintf("unknown field %q", key.Value))
			}
		}
	default:
		return nil, invalidAt(top.Line, "expected a list of actions or a mapping with an actions list")
	}

	if list == nil {
		return doc, nil
	}

	for _, node := range list.Content {
		a, err := decodeAction(node)
		if err != nil {
			return nil, err
		}
		if a.Server == "" {
			a.Server = doc.Server
		}
		doc.Actions = append(doc.Actions, a)
	}
	return doc, nil
}

// ParseFile reads and decodes the action file at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "action", "ParseFile", "read action file")
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func decodeAction(node *yaml.Node) (Action, error) {
	if node.Kind != yaml.MappingNode {
		return Action{}, invalidAt(node.Line, "action must be a mapping")
	}

	var raw rawAction
	if err := node.Decode(&raw); err != nil {
		return Action{}, invalidAt(node.Line, err.Error())
	}

	a := raw.Action
	a.Line = node.Line
	a.Type = Type(strings.ToLower(strings.TrimSpace(string(a.Type))))
	if !a.Type.Valid() {
		return Action{}, invalidAt(node.Line, fmt.Sprintf("unknown action type %q", raw.Action.Type))
	}

	if raw.Timeout != "" {
		d, err := parseTimeout(raw.Timeout)
		if err != nil {
			return Action{}, invalidAt(node.Line, err.Error())
		}
		a.Timeout = d
	}
	if a.Batch < 0 {
		return Action{}, invalidAt(node.Line, "batch cannot be negative")
	}
	return a, nil
}

// parseTimeout accepts Go durations ("2s") or bare milliseconds ("1500").
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("timeout cannot be negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout cannot be negative")
	}
	return d, nil
}

func invalidAt(line int, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("line %d: %s", line, msg), "action", "Parse", "decode action")
}

// Nearest returns the action of type t that starts at line or closest above
// it. An empty t matches any type.
func Nearest(actions []Action, line int, t Type) (Action, bool) {
	var (
		best  Action
		found bool
	)
	for _, a := range actions {
		if t != "" && a.Type != t {
			continue
		}
		if a.Line > line {
			continue
		}
		if !found || a.Line > best.Line {
			best, found = a, true
		}
	}
	return best, found
}

// BuildKey derives the identity of the action at line in path.
func BuildKey(path string, line int) string {
	return path + ":" + strconv.Itoa(line)
}
