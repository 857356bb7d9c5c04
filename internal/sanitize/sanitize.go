// Package sanitize neutralizes adversarial instructions in externally
// sourced text before it enters any prompt.
//
// The pipeline is a fixed sequence of independent stages: invisible
// character removal, prompt-delimiter escaping, role-marker escaping,
// newline collapsing, injection-phrase redaction, encoded-payload
// detection, and long-line splitting. Sanitize is deterministic and
// idempotent: running it on its own output is a no-op.
//
// No filter is perfect. This catches common patterns; sophisticated
// attacks may slip through, so downstream prompts still isolate
// untrusted content structurally (see the prompt package).
package sanitize

import (
	"encoding/base64"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Threat tags reported by the pipeline stages.
const (
	ThreatInvisibleChars  = "invisible_chars"
	ThreatPromptDelimiter = "prompt_delimiter"
	ThreatRoleMarker      = "role_marker"
	ThreatNewlineFlood    = "newline_flood"
	ThreatInjectionPhrase = "injection_phrase"
	ThreatEncodedPayload  = "encoded_payload"
	ThreatLongLine        = "long_line"
)

// Mode selects how prompt-boundary delimiters are handled.
type Mode int

const (
	// ModeEscape wraps delimiters in visible brackets with the
	// delimiter-significant characters removed.
	ModeEscape Mode = iota
	// ModeAggressive deletes delimiters outright.
	ModeAggressive
)

const (
	// maxConsecutiveNewlines caps vertical whitespace runs.
	maxConsecutiveNewlines = 2
	// maxLineLength is the threshold above which a line is wrapped.
	maxLineLength = 500
	// minBase64RunLength is the shortest character run considered a
	// potential encoded payload.
	minBase64RunLength = 40

	redactionMarker = "[filtered]"
	encodedMarker   = "[encoded-content-removed]"
)

// Report describes what the sanitizer found and changed.
// It is a pure output; the sanitizer holds no mutable state.
type Report struct {
	ContentType     string   `json:"contentType"`
	Threats         []string `json:"threats"`
	OriginalLength  int      `json:"originalLength"`
	SanitizedLength int      `json:"sanitizedLength"`
}

// Clean reports whether no threats were found.
func (r Report) Clean() bool {
	return len(r.Threats) == 0
}

// promptDelimiters are known prompt-boundary fences that could trick a
// model into treating what follows as a new conversation context.
var promptDelimiters = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"<<SYS>>",
	"<</SYS>>",
	"[INST]",
	"[/INST]",
	"[SYSTEM]",
	"[/SYSTEM]",
	"<system>",
	"</system>",
	"<instruction>",
	"</instruction>",
}

// delimiterPatterns matches each delimiter case-insensitively.
var delimiterPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(promptDelimiters))
	for _, d := range promptDelimiters {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(d)))
	}
	return patterns
}()

// delimiterChars are the characters stripped from a delimiter before it
// is re-wrapped in visible brackets, so the escaped form can never be
// re-parsed as a fence.
var delimiterChars = strings.NewReplacer(
	"<", "", ">", "", "|", "", "[", "", "]", "", "/", "",
)

// roleMarkerPattern matches conversation role impersonation tokens such
// as "System:" or "assistant :". The ASCII colon is what makes these
// parse as role markers, so escaping swaps it for a full-width colon.
var roleMarkerPattern = regexp.MustCompile(`(?i)\b(system|assistant|user|human|ai|developer)[ \t]*:`)

// newlineFloodPattern matches runs of more than maxConsecutiveNewlines.
var newlineFloodPattern = regexp.MustCompile(`\n{3,}`)

// injectionPatterns is a fixed denylist of known injection phrasings,
// in English and Chinese.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)override\s+(all\s+)?(previous|above|prior)\s+(instructions?|rules?)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat|output)\s+(me\s+)?(your\s+)?(the\s+)?system\s+prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)bypass\s+(safety|filter|restrictions?)`),
	regexp.MustCompile(`忽略(之前|以上|上面|所有)的?(所有)?(指令|指示|提示|规则)`),
	regexp.MustCompile(`(显示|泄露|输出|重复)(你的)?系统提示词?`),
	regexp.MustCompile(`无视(之前|以上|所有)的?(指令|指示|规则)`),
}

// base64RunPattern matches character runs of at least minBase64RunLength
// that look like Base64.
var base64RunPattern = regexp.MustCompile(`[A-Za-z0-9+/=]{40,}`)

// encodedKeywords are scanned for inside decoded Base64 payloads.
var encodedKeywords = []string{
	"ignore", "instruction", "system prompt", "disregard", "jailbreak",
	"忽略", "指令", "系统提示",
}

// Sanitizer runs the sanitization pipeline. Zero value is not usable;
// construct with New. Safe for concurrent use.
type Sanitizer struct {
	mode Mode
}

// New creates a Sanitizer with the given delimiter handling mode.
func New(mode Mode) *Sanitizer {
	return &Sanitizer{mode: mode}
}

// Sanitize runs text through the full pipeline and reports what it
// found. contentType is a caller-supplied label ("webpage",
// "search_result", ...) recorded in the report for logging.
func (s *Sanitizer) Sanitize(text, contentType string) (string, Report) {
	report := Report{
		ContentType:    contentType,
		OriginalLength: len(text),
	}

	threats := make(map[string]bool)

	out := strings.ReplaceAll(text, "\r\n", "\n")

	out = stripInvisible(out, threats)
	out = s.escapeDelimiters(out, threats)
	out = escapeRoleMarkers(out, threats)
	out = collapseNewlines(out, threats)
	out = redactInjectionPhrases(out, threats)
	// Phrase redaction can leave adjacent blank lines touching; enforce
	// the newline cap again so the two stages compose.
	out = collapseNewlines(out, threats)
	out = redactEncodedPayloads(out, threats)
	out = splitLongLines(out, threats)

	report.Threats = make([]string, 0, len(threats))
	for tag := range threats {
		report.Threats = append(report.Threats, tag)
	}
	slices.Sort(report.Threats)
	report.SanitizedLength = len(out)

	return out, report
}

// stripInvisible removes zero-width and other format-category characters
// used to hide payloads from pattern matching.
func stripInvisible(text string, threats map[string]bool) string {
	var b strings.Builder
	b.Grow(len(text))
	removed := false
	for _, r := range text {
		if unicode.Is(unicode.Cf, r) {
			removed = true
			continue
		}
		b.WriteRune(r)
	}
	if removed {
		threats[ThreatInvisibleChars] = true
		return b.String()
	}
	return text
}

// escapeDelimiters neutralizes known prompt-boundary fences. In escape
// mode the fence is wrapped in visible brackets with its structural
// characters removed; in aggressive mode it is deleted.
func (s *Sanitizer) escapeDelimiters(text string, threats map[string]bool) string {
	for _, re := range delimiterPatterns {
		if !re.MatchString(text) {
			continue
		}
		threats[ThreatPromptDelimiter] = true
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			if s.mode == ModeAggressive {
				return ""
			}
			return "⟦" + delimiterChars.Replace(match) + "⟧"
		})
	}
	return text
}

// escapeRoleMarkers swaps the ASCII colon in role impersonation tokens
// for a full-width colon, leaving the text readable but inert.
func escapeRoleMarkers(text string, threats map[string]bool) string {
	if !roleMarkerPattern.MatchString(text) {
		return text
	}
	threats[ThreatRoleMarker] = true
	return roleMarkerPattern.ReplaceAllStringFunc(text, func(match string) string {
		return match[:len(match)-1] + "："
	})
}

// collapseNewlines caps vertical whitespace runs at
// maxConsecutiveNewlines.
func collapseNewlines(text string, threats map[string]bool) string {
	if !newlineFloodPattern.MatchString(text) {
		return text
	}
	threats[ThreatNewlineFlood] = true
	return newlineFloodPattern.ReplaceAllString(text, strings.Repeat("\n", maxConsecutiveNewlines))
}

// redactInjectionPhrases replaces known injection phrasings with a
// visible redaction marker.
func redactInjectionPhrases(text string, threats map[string]bool) string {
	for _, re := range injectionPatterns {
		if !re.MatchString(text) {
			continue
		}
		threats[ThreatInjectionPhrase] = true
		text = re.ReplaceAllString(text, redactionMarker)
	}
	return text
}

// redactEncodedPayloads decodes Base64-looking runs and replaces any
// that contain injection keywords. Decoding garbage is fine; only
// payloads that decode to recognizable instructions are redacted.
func redactEncodedPayloads(text string, threats map[string]bool) string {
	if !base64RunPattern.MatchString(text) {
		return text
	}
	return base64RunPattern.ReplaceAllStringFunc(text, func(run string) string {
		decoded, ok := decodeBase64(run)
		if !ok {
			return run
		}
		lower := strings.ToLower(decoded)
		for _, kw := range encodedKeywords {
			if strings.Contains(lower, kw) {
				threats[ThreatEncodedPayload] = true
				return encodedMarker
			}
		}
		return run
	})
}

// decodeBase64 tries standard then raw (unpadded) decoding.
func decodeBase64(s string) (string, bool) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(b), true
	}
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return string(b), true
	}
	return "", false
}

// splitLongLines wraps any single line exceeding maxLineLength, so a
// payload cannot hide on one enormous line that evades newline-based
// heuristics. Splits happen on rune boundaries.
func splitLongLines(text string, threats map[string]bool) string {
	if len(text) <= maxLineLength {
		return text
	}
	lines := strings.Split(text, "\n")
	changed := false
	for i, line := range lines {
		if utf8.RuneCountInString(line) <= maxLineLength {
			continue
		}
		changed = true
		lines[i] = wrapLine(line, maxLineLength)
	}
	if !changed {
		return text
	}
	threats[ThreatLongLine] = true
	return strings.Join(lines, "\n")
}

// wrapLine splits line into newline-joined segments of at most width
// runes.
func wrapLine(line string, width int) string {
	runes := []rune(line)
	var b strings.Builder
	b.Grow(len(line) + len(runes)/width + 1)
	for start := 0; start < len(runes); start += width {
		end := min(start+width, len(runes))
		if start > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(runes[start:end]))
	}
	return b.String()
}
