package compose

import (
	"strings"
	"time"
)

// ChannelSwitchIgnoreEnter swallows an Enter that lands right after a
// conversation switch, so a keystroke aimed at the old channel is not sent.
const ChannelSwitchIgnoreEnter = 500 * time.Millisecond

const tripleBackticks = "```"

// KeyEvent is the modifier state of a key press in the composer.
type KeyEvent struct {
	Enter bool
	Shift bool
	Alt   bool
	// Ctrl is set for ctrl or meta.
	Ctrl bool
}

// SendPreferences are the user's Enter-to-send settings.
type SendPreferences struct {
	CtrlSend             bool
	CodeBlockOnCtrlEnter bool
}

// KeyDecision says what an Enter press should do.
type KeyDecision struct {
	AllowSending   bool
	IgnoreKeyPress bool
	// ClosedCodeBlock is set when Message has an unterminated fence closed.
	ClosedCodeBlock bool
	Message         string
}

// DecideKeyPress reproduces the Enter-to-send rules. caret is in runes.
func DecideKeyPress(ev KeyEvent, message string, prefs SendPreferences, now, lastChannelSwitch time.Time, caret int) KeyDecision {
	if !ev.Enter || ev.Shift || ev.Alt {
		return KeyDecision{}
	}
	if !lastChannelSwitch.IsZero() && !now.IsZero() && now.Sub(lastChannelSwitch) <= ChannelSwitchIgnoreEnter {
		return KeyDecision{IgnoreKeyPress: true}
	}
	if strings.TrimSpace(message) == "" || !(prefs.CtrlSend || prefs.CodeBlockOnCtrlEnter) {
		return KeyDecision{AllowSending: true}
	}
	return sendOnCtrlEnter(message, ev.Ctrl, prefs.CtrlSend, caret)
}

func sendOnCtrlEnter(message string, ctrl, ctrlSend bool, caret int) KeyDecision {
	runes := []rune(message)
	caret = min(max(caret, 0), len(runes))
	fences := strings.Count(string(runes[:caret]), tripleBackticks)
	balanced := fences%2 == 0

	switch {
	case ctrlSend && ctrl && balanced:
		return KeyDecision{AllowSending: true}
	case !ctrlSend && balanced:
		return KeyDecision{AllowSending: true}
	case ctrl && !balanced:
		return closeCodeBlock(message)
	}
	return KeyDecision{}
}

func closeCodeBlock(message string) KeyDecision {
	var lines []string
	for _, line := range strings.Split(message, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > 1 && !strings.Contains(lines[len(lines)-1], tripleBackticks) {
		closed := message + "\n" + tripleBackticks
		if strings.HasSuffix(message, "\n") {
			closed = message + tripleBackticks
		}
		return KeyDecision{AllowSending: true, ClosedCodeBlock: true, Message: closed}
	}
	return KeyDecision{AllowSending: true}
}
