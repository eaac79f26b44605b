package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MarkdownMode names a formatting hotkey action.
type MarkdownMode string

const (
	MarkdownBold    MarkdownMode = "bold"
	MarkdownItalic  MarkdownMode = "italic"
	MarkdownLink    MarkdownMode = "link"
	MarkdownStrike  MarkdownMode = "strike"
	MarkdownCode    MarkdownMode = "code"
	MarkdownHeading MarkdownMode = "heading"
	MarkdownQuote   MarkdownMode = "quote"
	MarkdownUL      MarkdownMode = "ul"
	MarkdownOL      MarkdownMode = "ol"
)

// Selection is a caret range in runes. Start == End is a plain caret.
type Selection struct {
	Start int
	End   int
}

// Formatted is the message and the selection to restore after a hotkey.
type Formatted struct {
	Message   string
	Selection Selection
}

const (
	boldMD       = "**"
	italicMD     = "*"
	linkStart    = "["
	linkEnd      = "](url)"
	olDelimLen   = 3
	linkURLShift = len(linkStart) + 2
)

var (
	olLineDelimRe  = regexp.MustCompile(`\n\d\. `)
	olFirstDelimRe = regexp.MustCompile(`^\d\. `)
)

// ApplyMarkdown toggles the markdown for mode around the selection in value.
func ApplyMarkdown(mode MarkdownMode, value string, sel Selection) (Formatted, error) {
	runes := []rune(value)
	sel = clampSelection(sel, len(runes))
	switch mode {
	case MarkdownBold, MarkdownItalic:
		return applyBoldItalic(runes, sel, mode), nil
	case MarkdownLink:
		return applyLink(runes, sel), nil
	case MarkdownStrike:
		return applyToSelection(runes, sel, "~~"), nil
	case MarkdownCode:
		return applyToSelection(runes, sel, "```"), nil
	case MarkdownHeading:
		return applyToSelectedLines(runes, sel, "### "), nil
	case MarkdownQuote:
		return applyToSelectedLines(runes, sel, "> "), nil
	case MarkdownUL:
		return applyToSelectedLines(runes, sel, "- "), nil
	case MarkdownOL:
		return applyOrderedList(runes, sel), nil
	}
	return Formatted{}, fmt.Errorf("unsupported markdown mode %q", mode)
}

func clampSelection(sel Selection, n int) Selection {
	sel.Start = min(max(sel.Start, 0), n)
	sel.End = min(max(sel.End, sel.Start), n)
	return sel
}

func split(runes []rune, sel Selection) (prefix, selection, suffix string) {
	return string(runes[:sel.Start]), string(runes[sel.Start:sel.End]), string(runes[sel.End:])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func toggleAround(prefix, selection, suffix string, sel Selection, delimiter string, remove bool) Formatted {
	n := runeLen(delimiter)
	if remove {
		return Formatted{
			Message:   strings.TrimSuffix(prefix, delimiter) + selection + strings.TrimPrefix(suffix, delimiter),
			Selection: Selection{Start: sel.Start - n, End: sel.End - n},
		}
	}
	return Formatted{
		Message:   prefix + delimiter + selection + delimiter + suffix,
		Selection: Selection{Start: sel.Start + n, End: sel.End + n},
	}
}

func applyToSelection(runes []rune, sel Selection, delimiter string) Formatted {
	prefix, selection, suffix := split(runes, sel)
	has := strings.HasSuffix(prefix, delimiter) && strings.HasPrefix(suffix, delimiter)
	return toggleAround(prefix, selection, suffix, sel, delimiter, has)
}

func applyBoldItalic(runes []rune, sel Selection, mode MarkdownMode) Formatted {
	prefix, selection, suffix := split(runes, sel)

	delimiter := boldMD
	// italic on **word** wraps again rather than eating one bold star
	italicOnBold := false
	if mode == MarkdownItalic {
		delimiter = italicMD
		italicOnBold = strings.HasSuffix(prefix, boldMD) && strings.HasPrefix(suffix, boldMD)
	}
	has := strings.HasSuffix(prefix, delimiter) && strings.HasPrefix(suffix, delimiter)
	hasBoth := strings.HasSuffix(prefix, boldMD+italicMD) && strings.HasPrefix(suffix, boldMD+italicMD)

	return toggleAround(prefix, selection, suffix, sel, delimiter, hasBoth || (has && !italicOnBold))
}

func applyLink(runes []rune, sel Selection) Formatted {
	prefix, selection, suffix := split(runes, sel)

	if strings.HasSuffix(prefix, linkStart) && strings.HasPrefix(suffix, linkEnd) {
		return Formatted{
			Message:   strings.TrimSuffix(prefix, linkStart) + selection + strings.TrimPrefix(suffix, linkEnd),
			Selection: Selection{Start: sel.Start - len(linkStart), End: sel.End - len(linkStart)},
		}
	}
	if len(runes) == 0 {
		return Formatted{
			Message:   linkStart + linkEnd,
			Selection: Selection{Start: len(linkStart), End: len(linkStart)},
		}
	}
	if sel.Start < sel.End {
		start := sel.End + linkURLShift
		return Formatted{
			Message:   prefix + linkStart + selection + linkEnd + suffix,
			Selection: Selection{Start: start, End: start + linkURLShift},
		}
	}

	caret := sel.Start
	spaceBefore := caret > 0 && runes[caret-1] == ' '
	spaceAfter := caret < len(runes) && runes[caret] == ' '
	beforeWord := (caret != 0 && spaceBefore && !spaceAfter) || (caret == 0 && !spaceAfter)
	afterWord := (caret != len(runes) && spaceAfter && !spaceBefore) || (caret == len(runes) && !spaceBefore)

	switch {
	case beforeWord:
		word := string(runes[caret:findWordEnd(runes, caret)])
		start := caret + runeLen(word) + linkURLShift
		return Formatted{
			Message:   prefix + linkStart + word + linkEnd + string(runes[caret+runeLen(word):]),
			Selection: Selection{Start: start, End: start + linkURLShift},
		}
	case afterWord && caret == len(runes):
		start := caret + 1 + len(linkStart)
		return Formatted{
			Message:   string(runes) + " " + linkStart + linkEnd,
			Selection: Selection{Start: start, End: start},
		}
	case afterWord:
		wordStart := findWordStart(runes, caret)
		word := string(runes[wordStart:caret])
		start := caret + linkURLShift
		return Formatted{
			Message:   string(runes[:wordStart]) + linkStart + word + linkEnd + suffix,
			Selection: Selection{Start: start, End: start + linkURLShift},
		}
	default:
		wordStart := findWordStart(runes, caret)
		wordEnd := findWordEnd(runes, caret)
		start := wordEnd + linkURLShift
		return Formatted{
			Message: string(runes[:wordStart]) + linkStart + string(runes[wordStart:wordEnd]) + linkEnd +
				string(runes[wordEnd:]),
			Selection: Selection{Start: start, End: start + linkURLShift},
		}
	}
}

func findWordEnd(runes []rune, start int) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == ' ' {
			return i
		}
	}
	return len(runes)
}

func findWordStart(runes []rune, start int) int {
	from := min(max(start-1, 0), len(runes)-1)
	for i := from; i >= 0; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return 0
}

// lineParts widens the selection to whole lines. The returned block starts
// with "\n" unless it includes the first line of the message.
func lineParts(runes []rune, sel Selection) (head, block, tail string, firstLine bool) {
	prefix, selection, suffix := split(runes, sel)

	linePrefix := prefix
	if i := strings.LastIndex(prefix, "\n"); i >= 0 {
		head = prefix[:i]
		linePrefix = prefix[i:]
	}

	lineSuffix := suffix
	switch i := strings.Index(suffix, "\n"); {
	case strings.HasPrefix(suffix, "\n"):
		lineSuffix, tail = "", suffix
	case i >= 0:
		lineSuffix, tail = suffix[:i], suffix[i:]
	default:
		tail = ""
	}

	block = linePrefix + selection + lineSuffix
	return head, block, tail, !strings.HasPrefix(block, "\n")
}

func applyToSelectedLines(runes []rune, sel Selection, delimiter string) Formatted {
	head, block, tail, firstLine := lineParts(runes, sel)
	n := runeLen(delimiter)

	lines := strings.Count(block, "\n")
	marked := strings.Count(block, "\n"+delimiter)
	has := lines == marked && (!firstLine || strings.HasPrefix(block, delimiter))

	if has {
		if firstLine {
			block = strings.TrimPrefix(block, delimiter)
		}
		count := strings.Count(block, "\n")
		if firstLine {
			count++
		}
		return Formatted{
			Message: head + strings.ReplaceAll(block, "\n"+delimiter, "\n") + tail,
			Selection: Selection{
				Start: max(sel.Start-n, 0),
				End:   max(sel.End-n*count, 0),
			},
		}
	}

	message := head + strings.ReplaceAll(block, "\n", "\n"+delimiter) + tail
	count := strings.Count(block, "\n")
	if firstLine {
		message = delimiter + message
		count++
	}
	return Formatted{
		Message:   message,
		Selection: Selection{Start: sel.Start + n, End: sel.End + n*count},
	}
}

func applyOrderedList(runes []rune, sel Selection) Formatted {
	head, block, tail, firstLine := lineParts(runes, sel)

	lines := strings.Count(block, "\n")
	marked := len(olLineDelimRe.FindAllStringIndex(block, -1))
	has := lines == marked && (!firstLine || olFirstDelimRe.MatchString(block))

	if has {
		if firstLine {
			block = string([]rune(block)[min(olDelimLen, runeLen(block)):])
		}
		count := strings.Count(block, "\n")
		if firstLine {
			count++
		}
		return Formatted{
			Message: head + olLineDelimRe.ReplaceAllString(block, "\n") + tail,
			Selection: Selection{
				Start: max(sel.Start-olDelimLen, 0),
				End:   max(sel.End-olDelimLen*count, 0),
			},
		}
	}

	counter := 1
	next := func() string {
		s := strconv.Itoa(counter) + ". "
		counter++
		return s
	}
	var b strings.Builder
	count := 0
	if firstLine {
		b.WriteString(next())
		count++
	}
	for _, r := range block {
		if r == '\n' {
			b.WriteString("\n" + next())
			count++
			continue
		}
		b.WriteRune(r)
	}
	return Formatted{
		Message:   head + b.String() + tail,
		Selection: Selection{Start: sel.Start + olDelimLen, End: sel.End + olDelimLen*count},
	}
}
