package instructions

import "strings"

// Model families with their own upstream prompt.
const (
	FamilyGPT51CodexMax = "gpt-5.1-codex-max"
	FamilyCodexMax      = "codex-max"
	FamilyCodex         = "codex"
	FamilyGPT51         = "gpt-5.1"
	FamilyGPT5          = "gpt-5"
)

// families is the classification order. Family markers nest ("codex" is a
// substring of "codex-max"), so the most specific marker must come first.
var families = []string{FamilyGPT51CodexMax, FamilyCodexMax, FamilyCodex, FamilyGPT51}

var promptFiles = map[string]string{
	FamilyGPT51CodexMax: "gpt-5.1-codex-max_prompt.md",
	FamilyCodexMax:      "gpt-5.1-codex-max_prompt.md",
	FamilyCodex:         "gpt_5_codex_prompt.md",
	FamilyGPT51:         "gpt_5_1_prompt.md",
	FamilyGPT5:          "prompt.md",
}

// ClassifyFamily maps a model id onto its instruction family. Anything that
// matches no marker falls back to the oldest general family.
func ClassifyFamily(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	for _, family := range families {
		if strings.Contains(normalized, family) {
			return family
		}
	}
	return FamilyGPT5
}

// Families lists every family in classification order, default last.
func Families() []string {
	return append(append([]string(nil), families...), FamilyGPT5)
}

// PromptFile returns the upstream file name holding the family prompt.
func PromptFile(family string) string {
	if file, ok := promptFiles[family]; ok {
		return file
	}
	return promptFiles[FamilyGPT5]
}
