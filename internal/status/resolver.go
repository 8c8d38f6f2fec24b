// Package status derives a single human-readable progress string from the
// heterogeneous event stream of a session. Resolution follows a strict
// priority hierarchy with a time-based fallback tier, so the UI never sits
// on a frozen placeholder while the backend is busy.
package status

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/streamhub/internal/event"
)

// Source identifies which tier of the hierarchy produced a snapshot.
type Source string

const (
	SourceSemantic  Source = "semantic"
	SourceTool      Source = "tool"
	SourceReasoning Source = "reasoning"
	SourcePhase     Source = "phase"
	SourceFallback  Source = "fallback"
	SourceIdle      Source = "idle"
)

// Snapshot is one resolved status. It is a pure projection of observed
// events plus elapsed time; it is never persisted.
type Snapshot struct {
	Text    string
	Source  Source
	Elapsed time.Duration
}

// Threshold is one entry of the time-fallback table.
type Threshold struct {
	After time.Duration `yaml:"after"`
	Text  string        `yaml:"text"`
}

// DefaultFallbacks is the ordered time-fallback table. The first entry
// doubles as the point past which the idle placeholder is forbidden.
var DefaultFallbacks = []Threshold{
	{After: 3 * time.Second, Text: "Still working on it…"},
	{After: 10 * time.Second, Text: "Building a detailed response…"},
	{After: 20 * time.Second, Text: "Crafting a thorough answer…"},
	{After: 30 * time.Second, Text: "This is taking longer than usual…"},
	{After: 45 * time.Second, Text: "Almost there…"},
}

// DefaultPlaceholder is shown before any signal arrives and before the
// first fallback threshold.
const DefaultPlaceholder = "Thinking…"

// Config holds resolver tunables. Zero values take defaults.
type Config struct {
	Placeholder  string
	TickInterval time.Duration
	// ToolFreshness bounds how long a completed tool result outranks
	// lower tiers. An in-flight tool outranks them until it completes.
	ToolFreshness time.Duration
	Fallbacks     []Threshold
}

func (c *Config) applyDefaults() {
	if c.Placeholder == "" {
		c.Placeholder = DefaultPlaceholder
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ToolFreshness <= 0 {
		c.ToolFreshness = 5 * time.Second
	}
	if len(c.Fallbacks) == 0 {
		c.Fallbacks = DefaultFallbacks
	}
}

// toolState tracks the most recent tool event for the tool tier.
type toolState struct {
	name       string
	inFlight   bool
	count      *int
	errMsg     string
	observedAt time.Time
}

// Resolver accumulates signals from observed events and resolves them,
// together with elapsed streaming time, into one Snapshot per call. Safe
// for concurrent Observe/Resolve, which the client pipeline does from the
// delivery goroutine and the tick timer respectively.
type Resolver struct {
	cfg Config

	mu           sync.Mutex
	semantic     string
	tool         *toolState
	reasoning    string
	tokenCount   int
	sawReasoning bool
	artifact     bool
	done         bool
	failed       string
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	cfg.applyDefaults()
	return &Resolver{cfg: cfg}
}

// TickInterval returns the configured re-resolution interval.
func (r *Resolver) TickInterval() time.Duration {
	return r.cfg.TickInterval
}

// Observe feeds one delivered event into the resolver. A payload that
// fails to parse is skipped; one bad event never poisons the stream.
func (r *Resolver) Observe(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case event.TypeStatus:
		var p event.StatusPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Message == "" {
			return
		}
		r.semantic = p.Message

	case event.TypeTool:
		var p event.ToolPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Name == "" {
			return
		}
		r.tool = &toolState{
			name:       p.Name,
			inFlight:   p.Phase == event.ToolPhaseStart,
			count:      p.ResultCount,
			errMsg:     p.Error,
			observedAt: time.Now(),
		}
		// A new tool supersedes older narration so progress reads forward.
		r.semantic = ""

	case event.TypeReasoning:
		var p event.ReasoningPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || strings.TrimSpace(p.Text) == "" {
			return
		}
		r.reasoning = p.Text
		r.sawReasoning = true

	case event.TypeToken:
		var p event.TokenPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		r.tokenCount++
		if strings.Contains(p.Content, "```") {
			r.artifact = true
		}

	case event.TypeDone:
		r.done = true

	case event.TypeError:
		var p event.ErrorPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Message == "" {
			p.Message = "upstream failed"
		}
		r.failed = p.Message
	}
}

// Resolve produces the current snapshot for the given elapsed streaming
// time. Priority: semantic, tool, parsed reasoning, phase, time fallback.
// Past the first fallback threshold the idle placeholder is never
// returned.
func (r *Resolver) Resolve(elapsed time.Duration) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := func(text string, source Source) Snapshot {
		return Snapshot{Text: text, Source: source, Elapsed: elapsed}
	}

	// Terminal states trump the hierarchy: a dead upstream must surface as
	// an explicit error, never as an indefinite fallback string.
	if r.failed != "" {
		return snap("Something went wrong: "+r.failed, SourceSemantic)
	}
	if r.done {
		return snap("Finished", SourcePhase)
	}

	if r.semantic != "" {
		return snap(r.semantic, SourceSemantic)
	}

	if text, ok := r.toolText(); ok {
		return snap(text, SourceTool)
	}

	if r.reasoning != "" {
		if text, ok := parseReasoning(r.reasoning); ok {
			return snap(text, SourceReasoning)
		}
	}

	if text, ok := r.phaseText(); ok {
		return snap(text, SourcePhase)
	}

	if text, ok := r.fallbackText(elapsed); ok {
		return snap(text, SourceFallback)
	}
	return snap(r.cfg.Placeholder, SourceIdle)
}

// toolText renders the tool tier: verb templates for in-flight tools,
// result or failure templates for completed ones. Completed results go
// stale after ToolFreshness so the stream can fall through to newer
// signals.
func (r *Resolver) toolText() (string, bool) {
	t := r.tool
	if t == nil {
		return "", false
	}
	if !t.inFlight && time.Since(t.observedAt) > r.cfg.ToolFreshness {
		return "", false
	}

	if t.inFlight {
		return toolVerb(t.name), true
	}
	if t.errMsg != "" {
		return fmt.Sprintf("%s failed", t.name), true
	}
	if t.count != nil {
		if *t.count == 1 {
			return "Found 1 result", true
		}
		return fmt.Sprintf("Found %d results", *t.count), true
	}
	return fmt.Sprintf("Finished %s", t.name), true
}

// toolVerb maps a tool name to an in-flight progress verb.
func toolVerb(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "search"), strings.Contains(lower, "query"):
		return "Searching…"
	case strings.Contains(lower, "fetch"), strings.Contains(lower, "read"), strings.Contains(lower, "get"):
		return "Reading…"
	case strings.Contains(lower, "write"), strings.Contains(lower, "create"):
		return "Writing…"
	case strings.Contains(lower, "browse"), strings.Contains(lower, "web"):
		return "Browsing…"
	default:
		return fmt.Sprintf("Running %s…", name)
	}
}

var (
	boldHeader     = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	markdownHeader = regexp.MustCompile(`(?m)^#{1,4}\s+(.+)$`)
)

// actionVerbs is the fixed verb table for reasoning extraction, checked
// in order against the start of reasoning words.
var actionVerbs = []struct {
	verb string
	text string
}{
	{"search", "Searching for relevant information…"},
	{"look", "Looking into the details…"},
	{"check", "Checking the facts…"},
	{"analyz", "Analyzing the problem…"},
	{"compar", "Comparing the options…"},
	{"review", "Reviewing the material…"},
	{"calculat", "Working through the numbers…"},
	{"plan", "Planning the approach…"},
	{"consider", "Weighing the alternatives…"},
	{"summariz", "Summarizing the findings…"},
}

// parseReasoning extracts a display string from free-form reasoning text:
// a bolded or markdown header wins, then an action-keyword match against
// the fixed verb table, then the truncated first sentence.
func parseReasoning(text string) (string, bool) {
	if m := boldHeader.FindStringSubmatch(text); m != nil {
		if header := strings.TrimSpace(m[1]); header != "" {
			return truncate(header, 80), true
		}
	}
	if m := markdownHeader.FindStringSubmatch(text); m != nil {
		if header := strings.TrimSpace(m[1]); header != "" {
			return truncate(header, 80), true
		}
	}

	lower := strings.ToLower(text)
	for _, entry := range actionVerbs {
		if strings.Contains(lower, entry.verb) {
			return entry.text, true
		}
	}

	if sentence := firstSentence(text); sentence != "" {
		return truncate(sentence, 80), true
	}
	return "", false
}

// firstSentence returns the first sentence or line of text.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, "\n"); idx > 0 {
		text = text[:idx]
	}
	if idx := strings.Index(text, ". "); idx > 0 {
		text = text[:idx+1]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// generatingTokenFloor is the token count past which a response is
// considered well underway rather than just starting.
const generatingTokenFloor = 24

// phaseText maps token count and artifact detection to a canned phase
// string. It only fires once content or reasoning has actually arrived;
// with no signal at all, resolution falls through to the time tier.
func (r *Resolver) phaseText() (string, bool) {
	switch {
	case r.tokenCount > 0 && r.artifact:
		return "Formatting the final response…", true
	case r.tokenCount >= generatingTokenFloor:
		return "Writing out the full response…", true
	case r.tokenCount > 0:
		return "Starting the response…", true
	case r.sawReasoning:
		return "Thinking through the details…", true
	default:
		return "", false
	}
}

// fallbackText selects the highest threshold not exceeding elapsed.
func (r *Resolver) fallbackText(elapsed time.Duration) (string, bool) {
	var text string
	for _, th := range r.cfg.Fallbacks {
		if elapsed >= th.After {
			text = th.Text
		}
	}
	return text, text != ""
}
