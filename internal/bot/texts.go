// ABOUTME: User-facing message texts with defaults.
// ABOUTME: Any field left empty in configuration falls back to its default.

package bot

import "strings"

// Texts are the messages the bot sends.
type Texts struct {
	// Welcome may contain {name}.
	Welcome          string `yaml:"welcome" toml:"welcome"`
	Help             string `yaml:"help" toml:"help"`
	Hint             string `yaml:"hint" toml:"hint"`
	Unavailable      string `yaml:"unavailable" toml:"unavailable"`
	HandoffRequested string `yaml:"handoff_requested" toml:"handoff_requested"`
	HandoffFailed    string `yaml:"handoff_failed" toml:"handoff_failed"`
	AlreadyConnected string `yaml:"already_connected" toml:"already_connected"`
	BackToBot        string `yaml:"back_to_bot" toml:"back_to_bot"`
	ConnectLabel     string `yaml:"connect_label" toml:"connect_label"`
}

// DefaultTexts returns the built-in English texts.
func DefaultTexts() Texts {
	return Texts{
		Welcome: "Hello, {name}! I'm the support assistant. Ask me anything.\n\n" +
			"If you'd rather talk to a person, tap the button below.",
		Help: "Just type your question and I'll try to answer it.\n\n" +
			"Type 'operator' at any time to reach a live operator.",
		Hint:             "\n\nIf you need a live operator, just type 'operator'.",
		Unavailable:      "Live operators are temporarily unavailable. Please try again later.",
		HandoffRequested: "Your request has been sent. An operator will reply here shortly.",
		HandoffFailed:    "Sorry, I couldn't reach an operator right now. Please try again in a moment.",
		AlreadyConnected: "You're already connected to an operator. Please wait for their reply.",
		BackToBot:        "You're back with the automated assistant. How can I help?",
		ConnectLabel:     "Talk to an operator",
	}
}

func (t Texts) withDefaults() Texts {
	d := DefaultTexts()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Texts{
		Welcome:          pick(t.Welcome, d.Welcome),
		Help:             pick(t.Help, d.Help),
		Hint:             pick(t.Hint, d.Hint),
		Unavailable:      pick(t.Unavailable, d.Unavailable),
		HandoffRequested: pick(t.HandoffRequested, d.HandoffRequested),
		HandoffFailed:    pick(t.HandoffFailed, d.HandoffFailed),
		AlreadyConnected: pick(t.AlreadyConnected, d.AlreadyConnected),
		BackToBot:        pick(t.BackToBot, d.BackToBot),
		ConnectLabel:     pick(t.ConnectLabel, d.ConnectLabel),
	}
}

func (t Texts) welcome(name string) string {
	return strings.ReplaceAll(t.Welcome, "{name}", name)
}
