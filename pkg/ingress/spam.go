package ingress

import "regexp"

// spamRules are cheap heuristics for the traffic community rooms actually
// attract. A match stops the message before the model engine but the sender
// still gets a 2xx, so spammers learn nothing from the response.
var spamRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"link_flood", regexp.MustCompile(`(?i)(https?://\S+[\s,]*){4,}`)},
	{"char_repeat", regexp.MustCompile(`(.)\1{14,}`)},
	{"giveaway_scam", regexp.MustCompile(`(?i)\b(free|claim)\b.{0,30}\b(airdrop|giveaway|nitro)\b`)},
	{"dm_solicit", regexp.MustCompile(`(?i)\b(dm|message)\s+me\b.{0,30}\b(profit|signal|invest)`)},
	{"seed_phish", regexp.MustCompile(`(?i)\b(validate|sync|restore)\b.{0,30}\bwallet\b.{0,40}\bhttps?://`)},
	{"invite_spam", regexp.MustCompile(`(?i)(discord\.gg/|t\.me/)\S+.{0,40}(discord\.gg/|t\.me/)\S+`)},
}

// spamMatch returns the name of the first matching rule, or "".
func spamMatch(text string) string {
	for _, rule := range spamRules {
		if rule.re.MatchString(text) {
			return rule.name
		}
	}
	return ""
}
