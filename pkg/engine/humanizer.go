package engine

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
)

// contradictionTails get appended when the humanizer decides the agent
// should second-guess itself mid-thought.
var contradictionTails = []string{
	"wait, actually, scratch that",
	"hmm, or maybe not",
	"actually let me walk that back a bit",
	"no wait, I take that back",
}

// humanizer roughs up engine output so replies read less machine-perfect:
// occasional adjacent-character typos and self-contradicting tails at the
// configured rates. Deterministic under a fixed seed.
type humanizer struct {
	mu                sync.Mutex
	rng               *rand.Rand
	typoRate          float64
	contradictionRate float64
}

func newHumanizer(typoRate, contradictionRate float64, seed int64) *humanizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &humanizer{
		rng:               rand.New(rand.NewSource(seed)),
		typoRate:          typoRate,
		contradictionRate: contradictionRate,
	}
}

func (h *humanizer) apply(text string) string {
	if text == "" {
		return text
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.typoRate > 0 && h.rng.Float64() < h.typoRate {
		text = h.typo(text)
	}
	if h.contradictionRate > 0 && h.rng.Float64() < h.contradictionRate {
		tail := contradictionTails[h.rng.Intn(len(contradictionTails))]
		text = strings.TrimRight(text, " \n") + "... " + tail
	}
	return text
}

// typo swaps one random pair of adjacent letters.
func (h *humanizer) typo(text string) string {
	runes := []rune(text)
	if len(runes) < 4 {
		return text
	}
	// A few attempts to land on a letter pair; give up quietly otherwise.
	for range [8]struct{}{} {
		i := h.rng.Intn(len(runes) - 1)
		if unicode.IsLetter(runes[i]) && unicode.IsLetter(runes[i+1]) {
			runes[i], runes[i+1] = runes[i+1], runes[i]
			return string(runes)
		}
	}
	return text
}
