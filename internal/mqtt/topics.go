package mqtt

import "strings"

// Topics builds bridge topic names under one prefix.
//
//	t := Topics{Prefix: "blelkdom"}
//	t.State()    // "blelkdom/state"
//	t.SetColor() // "blelkdom/set/color"
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + strings.Join(parts, "/")
}

// State carries the retained JSON state snapshot.
func (t Topics) State() string { return t.join("state") }

// Availability carries "online" or "offline" (also the LWT).
func (t Topics) Availability() string { return t.join("availability") }

func (t Topics) SetPower() string      { return t.join("set", "power") }
func (t Topics) SetColor() string      { return t.join("set", "color") }
func (t Topics) SetBrightness() string { return t.join("set", "brightness") }
func (t Topics) SetPreset() string     { return t.join("set", "preset") }

// AllCommands matches every command topic.
func (t Topics) AllCommands() string { return t.join("set", "+") }
