package compose

import (
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// the lookahead keeps @channel.foo and @all_staff from counting as special
var (
	specialMentionsRe    = regexp2.MustCompile(`(?:\B|\b_+)@(channel|all|here)(?!(\.|-|_)*[^\W_])`, regexp2.IgnoreCase)
	allMembersMentionsRe = regexp2.MustCompile(`(?:\B|\b_+)@(channel|all)(?!(\.|-|_)*[^\W_])`, regexp2.IgnoreCase)
	allMentionRe         = regexp2.MustCompile(`(?:\B|\b_+)@(all)(?!(\.|-|_)*[^\W_])`, regexp2.IgnoreCase)
	channelMentionRe     = regexp2.MustCompile(`(?:\B|\b_+)@(channel)(?!(\.|-|_)*[^\W_])`, regexp2.IgnoreCase)
	hereMentionRe        = regexp2.MustCompile(`(?:\B|\b_+)@(here)(?!(\.|-|_)*[^\W_])`, regexp2.IgnoreCase)
	atMentionRe          = regexp2.MustCompile(`\B@([a-z0-9.\-_]+)`, regexp2.IgnoreCase)
)

var markdownParser = goldmark.DefaultParser()

// SpecialMentions records which channel-wide mentions a message carries.
type SpecialMentions struct {
	All     bool
	Channel bool
	Here    bool
}

// Any reports whether at least one special mention is present.
func (m SpecialMentions) Any() bool {
	return m.All || m.Channel || m.Here
}

// Names returns the mentions in display form, all first.
func (m SpecialMentions) Names() []string {
	var names []string
	if m.All {
		names = append(names, "@all")
	}
	if m.Channel {
		names = append(names, "@channel")
	}
	if m.Here {
		names = append(names, "@here")
	}
	return names
}

// MentionableText strips the parts of a markdown message where mentions do
// not notify anyone: code spans, code blocks, raw html, link targets and images.
func MentionableText(message string) string {
	source := []byte(message)
	doc := markdownParser.Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.CodeSpan, *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock,
			*ast.RawHTML, *ast.AutoLink, *ast.Image:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func matches(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// ContainsAtChannel reports whether message notifies the whole channel.
// checkAll also counts @here. Slash commands never match.
func ContainsAtChannel(message string, checkAll bool) bool {
	if message == "" || strings.HasPrefix(message, "/") {
		return false
	}
	re := allMembersMentionsRe
	if checkAll {
		re = specialMentionsRe
	}
	return matches(re, MentionableText(message))
}

// FindSpecialMentions reports which of @all, @channel and @here appear.
func FindSpecialMentions(message string) SpecialMentions {
	if message == "" || strings.HasPrefix(message, "/") {
		return SpecialMentions{}
	}
	mentionable := MentionableText(message)
	return SpecialMentions{
		All:     matches(allMentionRe, mentionable),
		Channel: matches(channelMentionRe, mentionable),
		Here:    matches(hereMentionRe, mentionable),
	}
}

// AllAtMentions returns every @name in s, lower-cased, in order of first use.
func AllAtMentions(s string) []string {
	seen := map[string]bool{}
	var out []string
	m, err := atMentionRe.FindStringMatch(s)
	for err == nil && m != nil {
		name := strings.ToLower(strings.TrimRight(m.GroupByNumber(1).String(), "."))
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		m, err = atMentionRe.FindNextMatch(m)
	}
	return out
}

// GroupsMentionedInText returns the names from groups that message mentions.
func GroupsMentionedInText(message string, groups []string) []string {
	if message == "" || strings.HasPrefix(message, "/") || len(groups) == 0 {
		return nil
	}
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[strings.ToLower(g)] = true
	}
	var out []string
	for _, mention := range AllAtMentions(MentionableText(message)) {
		if known[mention] {
			out = append(out, mention)
		}
	}
	return out
}
