// Package normalize turns assistant text into one of a few stable result
// shapes, whatever model produced it and however it chose to format it.
//
// Models are asked (see package prompt) for either a JSON ideas document or
// an explanation plus one fenced code block, but nothing forces them to
// comply. So every shape is attempted, and anything that doesn't fit
// degrades to the next less specific one. Nothing in here returns an error.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/projectmitra/mitra-assist/internal/provider"
)

// MaxIdeas caps the ideas list handed back to callers.
const MaxIdeas = 5

// Kind identifies which shape a Result has.
type Kind int

const (
	KindAllFailed Kind = iota
	KindIdeas
	KindCodeAnswer
	KindPlainText
)

func (k Kind) String() string {
	switch k {
	case KindIdeas:
		return "ideas"
	case KindCodeAnswer:
		return "code"
	case KindPlainText:
		return "text"
	default:
		return "all_failed"
	}
}

// Result is the contract returned to every caller. Only the fields that
// belong to Kind are set:
//
//	KindIdeas       Ideas (1..MaxIdeas entries)
//	KindCodeAnswer  Explanation, Code
//	KindPlainText   Text
//	KindAllFailed   nothing
//
// Model names the provider that answered. The router fills it in; it's
// empty for KindAllFailed.
type Result struct {
	Kind        Kind     `json:"kind"`
	Ideas       []string `json:"ideas,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Code        string   `json:"code,omitempty"`
	Text        string   `json:"text,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// AllFailed is the result when no provider produced anything.
func AllFailed() Result {
	return Result{Kind: KindAllFailed}
}

// Failed reports whether r is the all-failed result.
func (r Result) Failed() bool {
	return r.Kind == KindAllFailed
}

// Normalize classifies text for the given task. It's a pure function:
// the same input always gives the same Result.
func Normalize(text string, kind provider.TaskKind) Result {
	if ideas, ok := TryParseIdeas(text); ok {
		return Result{Kind: KindIdeas, Ideas: ideas}
	}

	if kind == provider.TaskCodeGen {
		explanation, code := ExtractCode(text)
		return Result{Kind: KindCodeAnswer, Explanation: explanation, Code: code}
	}

	return Result{Kind: KindPlainText, Text: strings.TrimSpace(text)}
}

// TryParseIdeas reads text as {"ideas": [...]} and returns at most MaxIdeas
// non-blank entries in their original order. The key must be exactly
// "ideas". ok is false for anything else: not JSON, not an object, no ideas
// key, a non-string entry, or no non-blank entries.
func TryParseIdeas(text string) (ideas []string, ok bool) {
	// A map keeps the key match exact; struct decoding would also accept
	// "IDEAS" or "Ideas".
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return nil, false
	}
	raw, found := doc["ideas"]
	if !found {
		return nil, false
	}

	// Pointers so a null entry is distinguishable from "".
	var entries []*string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	out := make([]string, 0, MaxIdeas)
	for _, e := range entries {
		if e == nil || strings.TrimSpace(*e) == "" {
			continue
		}
		out = append(out, *e)
		if len(out) == MaxIdeas {
			break
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// fence matches the first ```-delimited block. Anything on the opening
// line (a language tag, attributes) is skipped only when it's followed by a
// line break, so a one-line block like ```print(1)``` keeps its content.
var fence = regexp.MustCompile("(?s)```(?:[^\n`]*\n)?(.*?)```")

// ExtractCode splits text into the prose around the first fenced code block
// and the block's content. Without a block, code is empty and explanation is
// the whole text. Both are trimmed.
func ExtractCode(text string) (explanation, code string) {
	loc := fence.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), ""
	}
	code = strings.TrimSpace(text[loc[2]:loc[3]])
	explanation = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return explanation, code
}
