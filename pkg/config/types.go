package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/core"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "500ms" or "5s" in files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value is zero.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	*d = Duration(v)
	return nil
}

// Connections is the list of configured pairings. Entries decoded from a
// file start from the connection defaults, so a file only names what it
// changes.
type Connections []core.ConnectionConfig

func (c Connections) reindex() {
	for i := range c {
		c[i].Index = i
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Connections) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: connections must be a list", value.Line)
	}
	out := make(Connections, 0, len(value.Content))
	for i, node := range value.Content {
		cc := core.DefaultConnectionConfig(i)
		if err := node.Decode(&cc); err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		out = append(out, cc)
	}
	out.reindex()
	*c = out
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Connections) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("connections: %w", err)
	}
	out := make(Connections, 0, len(raw))
	for i, msg := range raw {
		cc := core.DefaultConnectionConfig(i)
		if err := json.Unmarshal(msg, &cc); err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		out = append(out, cc)
	}
	out.reindex()
	*c = out
	return nil
}
