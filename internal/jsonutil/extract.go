// Package jsonutil implements the permissive, tolerant JSON extraction used
// throughout the LLM-facing stages (QueryPlanner, ResultProcessor). LLM
// output is free text that is supposed to contain a JSON object or array;
// this package locates and decodes it without trusting the surrounding
// prose, using a three-tier fallback strategy.
package jsonutil

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractObject locates a JSON object in free-form text and decodes it into
// v. It tries, in order:
//  1. the contents of a fenced ```json ... ``` code block,
//  2. the first balanced {...} substring that contains requiredKey,
//  3. the entire text.
//
// It returns false if none of the three tiers produced a value that decodes
// successfully into v.
func ExtractObject(text string, requiredKey string, v interface{}) bool {
	for _, candidate := range candidates(text, requiredKey, '{', '}') {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return true
		}
	}
	return false
}

// ExtractArray locates a JSON array in free-form text and decodes it into v,
// using the same three-tier strategy as ExtractObject but scanning for
// balanced [...] substrings.
func ExtractArray(text string, v interface{}) bool {
	for _, candidate := range candidates(text, "", '[', ']') {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return true
		}
	}
	return false
}

// candidates yields, in priority order, the text substrings worth attempting
// to decode as JSON: the fenced block body, every balanced bracketed
// substring containing requiredKey (first match wins, so order reflects
// document order), and finally the whole trimmed text.
func candidates(text, requiredKey string, open, close byte) []string {
	var out []string

	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}

	for _, block := range balancedBlocks(text, open, close) {
		if requiredKey == "" || strings.Contains(block, requiredKey) {
			out = append(out, block)
		}
	}

	out = append(out, strings.TrimSpace(text))
	return out
}

// balancedBlocks scans text for every top-level substring that starts with
// open and ends with its matching close, honoring nested brackets and
// skipping over bracket characters that appear inside quoted strings.
func balancedBlocks(text string, open, close byte) []string {
	var blocks []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					blocks = append(blocks, text[start:i+1])
					start = -1
				}
			}
		}
	}

	return blocks
}
