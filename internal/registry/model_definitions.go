// Package registry holds the static table of codex models the bridge
// exposes. Every model is a base upstream model paired with one reasoning
// effort; its composite id is "<base>-<effort>".
package registry

import (
	"regexp"
	"strings"
)

// Reasoning effort tiers.
const (
	EffortNone   = "none"
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
	EffortXHigh  = "xhigh"
)

// DefaultReasoningEffort applies to any id the registry does not know.
const DefaultReasoningEffort = EffortMedium

const (
	contextWindow   = 272000
	maxOutputTokens = 128000
	// created is the epoch second reported for every static model.
	created = 1762473600
)

// FamilyKind separates general-purpose families from coding-optimized ones.
type FamilyKind string

const (
	KindGeneral FamilyKind = "general"
	KindCoding  FamilyKind = "coding"
)

// Family is a base model and the tiers it accepts.
type Family struct {
	BaseModel   string
	DisplayName string
	Kind        FamilyKind
	Tiers       []string
}

// ModelInfo describes one composite model.
type ModelInfo struct {
	ID                  string `json:"id"`
	Object              string `json:"object"`
	Created             int64  `json:"created"`
	OwnedBy             string `json:"owned_by"`
	Type                string `json:"type"`
	DisplayName         string `json:"display_name,omitempty"`
	BaseModel           string `json:"base_model"`
	ReasoningEffort     string `json:"reasoning_effort"`
	ContextLength       int    `json:"context_length"`
	MaxCompletionTokens int    `json:"max_completion_tokens"`
}

// families is declaration order; GetModels preserves it.
// "none" is only valid for general families and mini variants stop at medium/high.
var families = []Family{
	{BaseModel: "gpt-5", DisplayName: "GPT-5", Kind: KindGeneral, Tiers: []string{EffortLow, EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5.1", DisplayName: "GPT-5.1", Kind: KindGeneral, Tiers: []string{EffortNone, EffortLow, EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5-codex", DisplayName: "GPT-5 Codex", Kind: KindCoding, Tiers: []string{EffortLow, EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5.1-codex", DisplayName: "GPT-5.1 Codex", Kind: KindCoding, Tiers: []string{EffortLow, EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5-codex-mini", DisplayName: "GPT-5 Codex Mini", Kind: KindCoding, Tiers: []string{EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5.1-codex-mini", DisplayName: "GPT-5.1 Codex Mini", Kind: KindCoding, Tiers: []string{EffortMedium, EffortHigh}},
	{BaseModel: "gpt-5.1-codex-max", DisplayName: "GPT-5.1 Codex Max", Kind: KindCoding, Tiers: []string{EffortLow, EffortMedium, EffortHigh, EffortXHigh}},
}

var (
	models    []*ModelInfo
	modelByID map[string]*ModelInfo
	familyMap map[string]*Family
)

func init() {
	modelByID = make(map[string]*ModelInfo)
	familyMap = make(map[string]*Family)
	for i := range families {
		f := &families[i]
		familyMap[f.BaseModel] = f
		for _, tier := range f.Tiers {
			info := &ModelInfo{
				ID:                  f.BaseModel + "-" + tier,
				Object:              "model",
				Created:             created,
				OwnedBy:             "openai",
				Type:                "codex",
				DisplayName:         f.DisplayName + " (" + tier + ")",
				BaseModel:           f.BaseModel,
				ReasoningEffort:     tier,
				ContextLength:       contextWindow,
				MaxCompletionTokens: maxOutputTokens,
			}
			models = append(models, info)
			modelByID[info.ID] = info
		}
	}
}

// legacySuffix matches the older "model(tier)" form.
var legacySuffix = regexp.MustCompile(`^(.+)\((none|low|medium|high|xhigh)\)$`)

func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	return id
}

// GetModels returns a copy of every model in declaration order.
func GetModels() []*ModelInfo {
	out := make([]*ModelInfo, 0, len(models))
	for _, m := range models {
		c := *m
		out = append(out, &c)
	}
	return out
}

// GetFamilies returns a copy of the family table.
func GetFamilies() []Family {
	out := make([]Family, len(families))
	for i, f := range families {
		f.Tiers = append([]string(nil), f.Tiers...)
		out[i] = f
	}
	return out
}

// GetModelInfo looks up a composite id. Legacy "model(tier)" ids resolve to
// the matching composite.
func GetModelInfo(id string) (*ModelInfo, bool) {
	norm := normalizeID(id)
	if m, ok := modelByID[norm]; ok {
		c := *m
		return &c, true
	}
	if match := legacySuffix.FindStringSubmatch(norm); match != nil {
		if m, ok := modelByID[match[1]+"-"+match[2]]; ok {
			c := *m
			return &c, true
		}
	}
	return nil, false
}

// GetBaseModelID strips the reasoning suffix. Unknown ids pass through
// unchanged so newer upstream model names keep working.
func GetBaseModelID(id string) string {
	if m, ok := GetModelInfo(id); ok {
		return m.BaseModel
	}
	norm := normalizeID(id)
	if match := legacySuffix.FindStringSubmatch(norm); match != nil {
		return match[1]
	}
	return strings.TrimSpace(id)
}

// GetReasoningEffort returns the effort of a known id and DefaultReasoningEffort otherwise.
func GetReasoningEffort(id string) string {
	if m, ok := GetModelInfo(id); ok {
		return m.ReasoningEffort
	}
	return DefaultReasoningEffort
}

// SupportsTier reports whether base accepts tier.
func SupportsTier(base, tier string) bool {
	f, ok := familyMap[normalizeID(base)]
	if !ok {
		return false
	}
	tier = strings.ToLower(strings.TrimSpace(tier))
	for _, t := range f.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}
