package sentiment

import "strings"

var positiveWords = map[string]bool{
	"beat": true, "beats": true, "surge": true, "surges": true, "soar": true, "soars": true,
	"rally": true, "rallies": true, "jump": true, "jumps": true, "gain": true, "gains": true,
	"upgrade": true, "upgrades": true, "upgraded": true, "record": true, "strong": true,
	"growth": true, "profit": true, "bullish": true, "outperform": true, "buy": true,
	"raises": true, "raised": true, "approval": true, "approved": true, "wins": true,
	"partnership": true, "expands": true, "rebound": true, "tops": true, "higher": true,
}

var negativeWords = map[string]bool{
	"miss": true, "misses": true, "plunge": true, "plunges": true, "drop": true, "drops": true,
	"fall": true, "falls": true, "slump": true, "slumps": true, "downgrade": true,
	"downgrades": true, "downgraded": true, "weak": true, "loss": true, "losses": true,
	"bearish": true, "underperform": true, "sell": true, "cuts": true, "cut": true,
	"lawsuit": true, "probe": true, "recall": true, "layoffs": true, "warning": true,
	"investigation": true, "decline": true, "declines": true, "lower": true, "fraud": true,
}

// HeadlineScore averages per-headline tone in [-1, 1]. Headlines with no
// lexicon hits count as neutral.
func HeadlineScore(headlines []string) float64 {
	if len(headlines) == 0 {
		return 0
	}
	total := 0.0
	for _, h := range headlines {
		pos, neg := 0, 0
		for _, w := range strings.FieldsFunc(strings.ToLower(h), func(r rune) bool {
			return !(r >= 'a' && r <= 'z')
		}) {
			if positiveWords[w] {
				pos++
			}
			if negativeWords[w] {
				neg++
			}
		}
		if pos+neg > 0 {
			total += float64(pos-neg) / float64(pos+neg)
		}
	}
	return total / float64(len(headlines))
}
