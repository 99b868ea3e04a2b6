package ingress

import (
	"regexp"
	"strings"

	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/raid"
)

// emergencyPhrases is deliberately hardcoded. Anything here preempts every
// other rule and rides the dispatcher priority lane.
var emergencyPhrases = []string{
	"seed phrase",
	"wallet drained",
	"funds stolen",
	"stolen funds",
	"got hacked",
	"been hacked",
	"account hacked",
	"rug pull",
	"rugged",
	"contract exploit",
	"phishing link",
	"drainer",
}

type classRule struct {
	category models.Category
	weight   float64
	re       *regexp.Regexp
}

var classRules = []classRule{
	{models.CategoryCryptoQuery, 0.9, regexp.MustCompile(`(?i)\b(price|chart|market ?cap|mcap|liquidity|volume)\b`)},
	{models.CategoryCryptoQuery, 0.7, regexp.MustCompile(`(?i)\b(pump|dip|ath|wen moon|tokenomics)\b`)},
	{models.CategorySupport, 0.9, regexp.MustCompile(`(?i)\b(how do i|can'?t|doesn'?t work|error|broken|help me|not working)\b`)},
	{models.CategorySupport, 0.6, regexp.MustCompile(`(?i)^help\b`)},
	{models.CategoryPersonalityTrigger, 0.8, regexp.MustCompile(`(?i)\b(who are you|what are you|tell me about yourself|are you (a )?(bot|real|human))\b`)},
	{models.CategoryMeme, 0.7, regexp.MustCompile(`(?i)\b(gm|gn|lfg|wagmi|ngmi|based|fren)\b`)},
	{models.CategoryMeme, 0.5, regexp.MustCompile(`(?i)\blo+l\b|😂|🔥|🚀`)},
}

// Classify is the stage-2 rule pass. It never calls out of process; the
// highest-weight matching rule wins and ties go to the earlier rule.
func Classify(msg models.InboundMessage) models.Classification {
	text := msg.Text
	if strings.TrimSpace(text) == "" && len(msg.Attachments) > 0 {
		return models.Classification{Category: models.CategoryMeme, Confidence: 0.4}
	}

	lower := strings.ToLower(text)
	for _, p := range emergencyPhrases {
		if strings.Contains(lower, p) {
			return models.Classification{
				Category:        models.CategoryEmergency,
				Confidence:      1.0,
				SuspensionHints: []string{p},
			}
		}
	}

	if raid.IsCommand(text) {
		return models.Classification{Category: models.CategoryRaidControl, Confidence: 1.0}
	}

	best := models.Classification{Category: models.CategoryCommunityChat, Confidence: 0.3}
	for _, rule := range classRules {
		if rule.weight > best.Confidence && rule.re.MatchString(text) {
			best = models.Classification{Category: rule.category, Confidence: rule.weight}
		}
	}
	return best
}

// classify wraps Classify so a rule bug degrades to unknown instead of
// killing the ingress goroutine.
func classify(msg models.InboundMessage) (cl models.Classification) {
	defer func() {
		if recover() != nil {
			cl = models.Classification{Category: models.CategoryUnknown, Confidence: 0}
		}
	}()
	return Classify(msg)
}
