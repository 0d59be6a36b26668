package chatclient

import (
	"fmt"

	"github.com/Tyrowin/meetchat/internal/chat"
)

// EmptyHint is shown in place of the transcript until the first message arrives.
const EmptyHint = "Unless pinned, messages can only be seen by people in the call when the message is sent. All messages are deleted when the call ends."

// FormatLine renders m for a text panel. Messages stamped with self are
// attributed to "you".
func FormatLine(m chat.Message, self string) string {
	who := m.User
	if m.User == self {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", m.Time, who, m.Text)
}
