// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// FieldRole describes how a configured field participates in page reads
// and writes.
type FieldRole string

const (
	RoleRead   FieldRole = "read"
	RoleWrite  FieldRole = "write"
	RoleTicker FieldRole = "ticker"
)

// PathStepKind identifies one traversal step toward a nested document.
type PathStepKind string

const (
	StepIframe PathStepKind = "iframe"
	StepShadow PathStepKind = "shadow"
)

// PathStep is one hop of a deterministic selector path: resolve the
// anchor in the current document, then descend into its iframe document
// or shadow root.
type PathStep struct {
	Kind     PathStepKind `json:"kind"`
	Selector string       `json:"selector"`
}

// FieldDescriptor is one configured form field on the workspace page.
type FieldDescriptor struct {
	Key          string      `json:"key"`
	Label        string      `json:"label"`
	Selector     string      `json:"selector"`
	SelectorPath []PathStep  `json:"selector_path,omitempty"`
	Roles        []FieldRole `json:"roles"`
	// CommitEvent is dispatched after a programmatic write ("" = none).
	CommitEvent string `json:"commit_event,omitempty"`
	// Reference marks autocomplete-backed fields that need the
	// interactive suggestion protocol instead of a direct value write.
	Reference bool `json:"reference,omitempty"`
	// Multi marks pill-rendering multi-select fields.
	Multi   bool `json:"multi,omitempty"`
	Enabled bool `json:"enabled"`
}

// HasRole reports whether the field carries the given role.
func (f FieldDescriptor) HasRole(role FieldRole) bool {
	for _, r := range f.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PatternType selects how a rule's pattern is tested against scan text.
type PatternType string

const (
	PatternRegex      PatternType = "regex"
	PatternExact      PatternType = "exact"
	PatternStartsWith PatternType = "starts-with"
	PatternContains   PatternType = "contains"
	PatternEndsWith   PatternType = "ends-with"
)

// ActionType tags one variant of Action.
type ActionType string

const (
	ActionSetField     ActionType = "set_field"
	ActionSetType      ActionType = "set_type"
	ActionToast        ActionType = "toast"
	ActionSpeech       ActionType = "speech"
	ActionWait         ActionType = "wait"
	ActionClick        ActionType = "click"
	ActionOpenURL      ActionType = "open_url"
	ActionLaunchPortal ActionType = "launch_portal"
)

// Action is one typed step executed after a rule matches. Only the
// members relevant to its Type are populated. Value, Message, Text and
// URL may contain ${name} placeholders resolved against the match
// variables before execution.
type Action struct {
	Type         ActionType `json:"type"`
	Field        string     `json:"field,omitempty"`
	Value        string     `json:"value,omitempty"`
	Title        string     `json:"title,omitempty"`
	Message      string     `json:"message,omitempty"`
	Level        string     `json:"level,omitempty"`
	Text         string     `json:"text,omitempty"`
	DurationMs   int        `json:"duration_ms,omitempty"`
	Selector     string     `json:"selector,omitempty"`
	SelectorPath []PathStep `json:"selector_path,omitempty"`
	URL          string     `json:"url,omitempty"`
	Target       string     `json:"target,omitempty"`
	Portal       string     `json:"portal,omitempty"`
	Serial       string     `json:"serial,omitempty"`
}

// Rule is one ordered pattern-matching definition. Rules are evaluated
// in stored order; the first enabled rule whose pattern matches wins.
type Rule struct {
	Name        string      `json:"name"`
	Pattern     string      `json:"pattern"`
	PatternType PatternType `json:"pattern_type"`
	// UseDirective enables scanning the raw text for a directive
	// character before pattern testing.
	UseDirective   bool     `json:"use_directive,omitempty"`
	DirectiveChars []string `json:"directive_chars,omitempty"`
	// GroupIndexes exposes extra regex capture groups under aliased
	// variable names (alias -> 1-based group index).
	GroupIndexes map[string]int `json:"group_indexes,omitempty"`
	Actions      []Action       `json:"actions"`
	SpeechLabel  string         `json:"speech_label,omitempty"`
	Enabled      bool           `json:"enabled"`
}

// MatchVariables is the variable set produced by one successful match.
// Keys are placeholder names; always present: raw, trimmed, last4,
// last6, group1..groupN for regex rules, and directive when one was
// resolved.
type MatchVariables map[string]string

// Match is the outcome of a successful rule evaluation.
type Match struct {
	Rule            Rule
	Variables       MatchVariables
	ExpandedActions []Action
}

// ScanSource identifies where a queued scan came from.
type ScanSource string

const (
	SourceScanner  ScanSource = "scanner"
	SourceManual   ScanSource = "manual"
	SourceBatch    ScanSource = "batch"
	SourceFollower ScanSource = "follower"
)

// ScanItem is one entry of the scan queue. It is created by capture,
// consumed exactly once by the worker, and never mutated afterwards.
type ScanItem struct {
	Text       string     `json:"text"`
	Source     ScanSource `json:"source"`
	EnqueuedAt int64      `json:"enqueued_at_ms"`
}

// ScanOutcome records what processing one scan did.
type ScanOutcome struct {
	Text        string    `json:"text"`
	RuleName    string    `json:"rule_name,omitempty"`
	Matched     bool      `json:"matched"`
	TimedOut    bool      `json:"timed_out,omitempty"`
	ActionsRun  int       `json:"actions_run"`
	ActionsFail int       `json:"actions_fail"`
	Warnings    []string  `json:"warnings,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// PageContext is the stored per-tab snapshot of the workspace form.
// A context is created lazily the first time its tab id is observed,
// refreshed only while that tab is the active one, and discarded when
// the id disappears from the tab bar.
type PageContext struct {
	TabID        string   `json:"tab_id"`
	Type         string   `json:"type"`
	TypeIcon     string   `json:"type_icon"`
	UserFullName string   `json:"user_full_name"`
	UserLastName string   `json:"user_last_name"`
	Vehicle      string   `json:"vehicle"`
	Assets       []string `json:"assets,omitempty"`
	Accessories  []string `json:"accessories,omitempty"`
	ControlRadio string   `json:"control_radio,omitempty"`
	UpdatedOnRaw string   `json:"updated_on_raw,omitempty"`
	// DisplayLabel is written exactly once per active-context refresh
	// and is the only value the label painter may read.
	DisplayLabel string `json:"display_label"`
	FirstSeen    int64  `json:"first_seen_ms"`
	RefreshedAt  int64  `json:"refreshed_at_ms"`
}

// Prefix is a value automatically prepended to subsequent scans.
// At most one prefix is active process-wide at a time.
type Prefix struct {
	Label string `json:"label"`
	Value string `json:"value"`
	// HotkeyDigit is 1..9, or 0 for no hotkey.
	HotkeyDigit int `json:"hotkey_digit,omitempty"`
	// StickyCount is how many scans the prefix stays active for.
	StickyCount int `json:"sticky_count"`
}

// Macro is a named batch of scan lines enqueued in order.
type Macro struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

// CaptureMode gates keyboard scan capture.
type CaptureMode string

const (
	CaptureOn      CaptureMode = "on"
	CaptureStandby CaptureMode = "standby"
	CaptureOff     CaptureMode = "off"
)

// LeadershipState is the per-session view of the election.
type LeadershipState struct {
	IsLeader          bool
	SessionID         string
	LastPeerHeartbeat int64
}

// TabHandle pairs a tab-bar entry's stable id with its DOM node.
type TabHandle struct {
	ID   string
	Node Node
}

// Settings is the persisted agent settings bucket.
type Settings struct {
	DuplicateWindowMs int         `json:"duplicate_window_ms"`
	ScanTimeoutMs     int         `json:"scan_timeout_ms"`
	CaptureMode       CaptureMode `json:"capture_mode"`
	// ArmoryKeywords is the URL/path keyword list that decides whether
	// the host page is one scans should be captured on.
	ArmoryKeywords []string `json:"armory_keywords"`
	PortalURL      string   `json:"portal_url,omitempty"`
	HomeLabel      string   `json:"home_label"`
}

// DefaultSettings returns the built-in settings used when the bucket is
// absent or malformed.
func DefaultSettings() Settings {
	return Settings{
		DuplicateWindowMs: 5000,
		ScanTimeoutMs:     10000,
		CaptureMode:       CaptureOn,
		ArmoryKeywords:    []string{"armory", "workspace", "x_arm"},
		HomeLabel:         "Armory",
	}
}
