// ABOUTME: Renders a transcript snapshot for agents taking over a conversation.
// ABOUTME: Oldest entries first, one timestamped line per message.

package session

import (
	"strings"
)

// HistoryHeader opens every rendered transcript.
const HistoryHeader = "=== CONVERSATION HISTORY ==="

const timestampLayout = "02.01.2006 15:04:05"

// RenderTranscript formats entries for posting as a private note.
func RenderTranscript(entries []Entry) string {
	if len(entries) == 0 {
		return "No message history."
	}

	var b strings.Builder
	b.WriteString(HistoryHeader)
	b.WriteString("\n\n")
	for _, e := range entries {
		speaker := "Client"
		if e.Role == RoleAutomated {
			speaker = "Bot"
		}
		b.WriteString("[")
		b.WriteString(e.Timestamp.Format(timestampLayout))
		b.WriteString("] ")
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
