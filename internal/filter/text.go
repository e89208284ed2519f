package filter

import (
	"regexp"
	"strings"
)

var (
	leadingMentionRe = regexp.MustCompile(`^\s*@[a-zA-Z0-9_]+`)
	mentionPrefixRe  = regexp.MustCompile(`^(@[a-zA-Z0-9_]+\b[,\s]*)+`)
	handleRe         = regexp.MustCompile(`@[a-zA-Z0-9_]+\b`)
	urlRe            = regexp.MustCompile(`https?://[^\s]+`)
)

// ExtractPrompt converts raw message text into the prompt handed to the
// answer engine: leading @-handles are dropped, embedded links (media and
// platform short-links) are stripped, and stray leading commas left behind
// by handle removal are cleaned up.
func ExtractPrompt(text string) string {
	prompt := strings.TrimSpace(text)

	for {
		stripped := leadingMentionRe.ReplaceAllString(prompt, "")
		if stripped == prompt {
			break
		}
		prompt = stripped
	}

	prompt = urlRe.ReplaceAllString(prompt, "")
	prompt = strings.TrimSpace(prompt)
	prompt = strings.TrimPrefix(prompt, ",")
	return strings.TrimSpace(prompt)
}

// PrefixMentions inspects the @-handles at the start of a message. For a
// reply only the leading run of handles counts (the platform prepends the
// thread participants); for a top-level message every handle in the text
// counts. Returns how many of them are the bot's own handle, plus all
// handles seen, lowercased.
func PrefixMentions(text, botHandle string, isReply bool) (int, []string) {
	prefix := text
	if isReply {
		prefix = mentionPrefixRe.FindString(text)
		if prefix == "" {
			return 0, nil
		}
	}

	raw := handleRe.FindAllString(prefix, -1)
	if len(raw) == 0 {
		return 0, nil
	}

	botHandle = strings.ToLower(botHandle)
	handles := make([]string, 0, len(raw))
	numBotMentions := 0

	for _, h := range raw {
		h = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(h), ","))
		handles = append(handles, h)
		if h == botHandle {
			numBotMentions++
		}
	}

	return numBotMentions, handles
}

// StripHandles removes every @-handle from text. Generated replies must not
// tag users: the platform suspends automated accounts that do.
func StripHandles(text string) string {
	return strings.TrimSpace(handleRe.ReplaceAllString(text, ""))
}
