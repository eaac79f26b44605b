package compose

import (
	"sort"
	"strings"
)

// EmojiSet answers whether a short name is a reactable emoji.
type EmojiSet interface {
	Has(name string) bool
}

// StaticEmoji is an EmojiSet backed by a fixed list of names.
type StaticEmoji map[string]struct{}

func NewStaticEmoji(names ...string) StaticEmoji {
	set := make(StaticEmoji, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

func (s StaticEmoji) Has(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

// Names lists the set in sorted order, for pickers.
func (s StaticEmoji) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultEmoji covers the system emoji the terminal client can render.
var DefaultEmoji = NewStaticEmoji(
	"+1", "thumbsup", "-1", "thumbsdown", "smile", "smiley", "grinning", "laughing", "joy",
	"wink", "blush", "heart", "broken_heart", "tada", "fire", "rocket", "eyes", "100",
	"white_check_mark", "heavy_check_mark", "x", "warning", "question", "exclamation",
	"thinking", "thinking_face", "pray", "clap", "wave", "ok_hand", "muscle", "raised_hands",
	"sob", "cry", "sweat_smile", "slightly_smiling_face", "upside_down_face", "neutral_face",
	"rage", "confused", "sunglasses", "star", "sparkles", "zap", "coffee", "beer", "pizza",
	"bug", "memo", "lock", "key", "bulb", "bell", "calendar", "hourglass", "stopwatch",
	"point_up", "point_down", "point_left", "point_right", "see_no_evil", "shrug",
)

// InsertEmoji places :name: at caret (runes) and returns the new message and
// caret. A space separates the emoji from text before it.
func InsertEmoji(message string, caret int, name string) (string, int) {
	token := ":" + name + ": "
	if message == "" {
		return token, runeLen(token)
	}
	runes := []rune(message)
	caret = min(max(caret, 0), len(runes))
	first, last := string(runes[:caret]), string(runes[caret:])
	if first == "" {
		return token + last, runeLen(token)
	}
	head := first + " " + token
	return head + last, runeLen(head)
}
