// ABOUTME: Splits free-text task descriptions into dispatchable fragments
// ABOUTME: Conjunctions, sentence breaks, list markers, and semicolons all split

package router

import (
	"regexp"
	"strings"
)

// minFragmentLen drops trailing scraps like "ok" or "and" that splitting
// leaves behind.
const minFragmentLen = 10

var (
	conjunctionRe = regexp.MustCompile(`(?i)\s*(?:,\s*)?\b(?:and then|and|then|also)\b\s*`)
	sentenceRe    = regexp.MustCompile(`[.!?]+\s+`)
	listMarkerRe  = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*|\s+\d+[.)]\s+`)
)

// DecomposeTask splits a task description into independent fragments on
// conjunctions, sentence boundaries, numbered-list markers, and
// semicolons. Fragments of ten characters or fewer are discarded. When
// splitting leaves at most one usable fragment the original description
// comes back as a single-element list.
func DecomposeTask(description string) []string {
	pieces := []string{description}
	for _, re := range []*regexp.Regexp{listMarkerRe, sentenceRe, conjunctionRe} {
		var next []string
		for _, p := range pieces {
			next = append(next, re.Split(p, -1)...)
		}
		pieces = next
	}

	var split []string
	for _, p := range pieces {
		next := strings.Split(p, ";")
		split = append(split, next...)
	}

	var fragments []string
	for _, p := range split {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ",."))
		if len(p) > minFragmentLen {
			fragments = append(fragments, p)
		}
	}

	if len(fragments) <= 1 {
		return []string{description}
	}
	return fragments
}
