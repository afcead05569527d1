// Package segment splits long text into bounded chunks suitable for speech
// synthesis. Splitting is hierarchical: paragraphs first, then sentences, then
// words, descending a level only when a single unit exceeds the bound.
package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChars is the chunk size used when none is configured.
const DefaultMaxChars = 2000

const (
	paragraphSep = "\n\n"
	wordSep      = " "
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Chunk is a bounded slice of source text, the unit of synthesis.
type Chunk struct {
	// Index is the position of the chunk in reading order, starting at 0.
	Index int `json:"index"`
	// Text is the chunk content.
	Text string `json:"text"`
	// CharCount is the length of Text in characters (runes).
	CharCount int `json:"char_count"`
}

// Options configures Split.
type Options struct {
	// MaxChars is the soft upper bound for a chunk, in characters.
	MaxChars int
	// HardMaxChars, when positive, forces a single word longer than it to be
	// cut into pieces of at most HardMaxChars characters. Zero keeps over-long
	// words intact as their own chunk. Values below MaxChars are raised to it.
	HardMaxChars int
}

// DefaultOptions returns Options with DefaultMaxChars and no hard cap.
func DefaultOptions() Options {
	return Options{MaxChars: DefaultMaxChars}
}

// Segment splits text into chunks of at most maxSize characters.
// It is Split without a hard cap.
func Segment(text string, maxSize int) []Chunk {
	return Split(text, Options{MaxChars: maxSize})
}

// Split splits text into ordered chunks bounded by opts.MaxChars.
//
// Every chunk is non-empty, chunks appear in reading order, and removing the
// separators from the concatenated chunks yields the trimmed input. A chunk
// may exceed MaxChars only when it is a single word (and no hard cap is set).
// It panics if opts.MaxChars is not positive.
func Split(text string, opts Options) []Chunk {
	if opts.MaxChars <= 0 {
		panic("segment: MaxChars must be positive")
	}
	hard := opts.HardMaxChars
	if hard > 0 && hard < opts.MaxChars {
		hard = opts.MaxChars
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return []Chunk{}
	}

	s := &splitter{max: opts.MaxChars, hard: hard}
	s.pack(paragraphs(text), paragraphSep, s.splitParagraph)

	chunks := make([]Chunk, len(s.out))
	for i, t := range s.out {
		chunks[i] = Chunk{Index: i, Text: t, CharCount: utf8.RuneCountInString(t)}
	}
	return chunks
}

type splitter struct {
	max  int
	hard int
	out  []string
}

// pack greedily joins units with sep into chunks no longer than s.max.
// A unit that is too long on its own flushes the buffer and is handed to
// descend.
func (s *splitter) pack(units []string, sep string, descend func(string)) {
	var buf string
	flush := func() {
		if strings.TrimSpace(buf) != "" {
			s.out = append(s.out, buf)
		}
		buf = ""
	}

	for _, u := range units {
		if utf8.RuneCountInString(u) > s.max {
			flush()
			descend(u)
			continue
		}
		if buf == "" {
			buf = u
			continue
		}
		if utf8.RuneCountInString(buf)+utf8.RuneCountInString(sep)+utf8.RuneCountInString(u) > s.max {
			flush()
			buf = u
			continue
		}
		buf += sep + u
	}
	flush()
}

func (s *splitter) splitParagraph(p string) {
	s.pack(sentences(p), wordSep, s.splitSentence)
}

func (s *splitter) splitSentence(sentence string) {
	s.pack(strings.Fields(sentence), wordSep, s.emitWord)
}

func (s *splitter) emitWord(w string) {
	if s.hard <= 0 || utf8.RuneCountInString(w) <= s.hard {
		s.out = append(s.out, w)
		return
	}
	runes := []rune(w)
	for len(runes) > 0 {
		n := min(s.hard, len(runes))
		s.out = append(s.out, string(runes[:n]))
		runes = runes[n:]
	}
}

func paragraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentences splits after terminal punctuation that is followed by whitespace.
func sentences(p string) []string {
	var out []string
	runes := []rune(p)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if !isTerminal(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
