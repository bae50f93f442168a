package machine

import "strings"

// transcriptAggregator accumulates transcript fragments for one dictation
// turn. Finals are authoritative; the last partial covers the tail the peer
// never finalized.
type transcriptAggregator struct {
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) AddPartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.lastSpoken = text
}

func (a *transcriptAggregator) AddFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	a.finals = append(a.finals, text)
}

func (a *transcriptAggregator) Text() string {
	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}
