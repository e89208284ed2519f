package filter

import (
	"regexp"
	"strings"
)

// Automation accounts the bot must never reply to. Answering another bot
// starts a reply loop that only ends when one side gets suspended.
var knownAutomationUsernames = map[string]struct{}{}

func init() {
	for _, name := range []string{
		"threadreaderapp",
		"savetonotion",
		"readwiseio",
		"unrollthread",
		"chatgptbot",
		"askdexa",
		"bigtechalert",
		"pingthread",
		"threader",
		"replygpt",
		"chatsonicai",
		"dustyplaylist",
		"pikaso_me",
		"remindme_ofthis",
		"savemyvideo",
		"quotedreplies",
		"makeitaquote",
		"colorize_bot",
		"dearassistant",
		"wayback_exe",
		"deepquestionbot",
		"magicrealismbot",
		"earthquakebot",
		"year_progress",
		"emojimashupbot",
		"translatorbot",
		"downloaderbot",
		"savevidbot",
		"everyword",
		"big_ben_clock",
		"anagramatron",
		"stealthmountain",
		"unrollhelper",
		"bot4thread",
		"ca_dmv_bot",
	} {
		knownAutomationUsernames[name] = struct{}{}
	}
}

var automationSuffixRe = regexp.MustCompile(`(bot|gpt|status)$`)

// IsKnownAutomationUsername reports whether the username is on the static
// automation-account list.
func IsKnownAutomationUsername(username string) bool {
	_, ok := knownAutomationUsernames[strings.ToLower(username)]
	return ok
}

// IsLikelyAutomationUsername additionally applies naming heuristics
// ("…bot", "…gpt", "…status") to catch automation accounts the static list
// misses.
func IsLikelyAutomationUsername(username string) bool {
	username = strings.ToLower(username)

	if IsKnownAutomationUsername(username) {
		return true
	}
	return automationSuffixRe.MatchString(username)
}
