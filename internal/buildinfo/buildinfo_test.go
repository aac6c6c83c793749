package buildinfo

import "testing"

func TestSummary(t *testing.T) {
	prevVersion, prevCommit, prevDate := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = prevVersion, prevCommit, prevDate })

	Version, Commit, BuildDate = "v1.2.0", "abc1234", "2025-11-20"
	want := "CodexBridge Version: v1.2.0, Commit: abc1234, BuiltAt: 2025-11-20"
	if got := Summary(); got != want {
		t.Fatalf("Summary() = %q, want %q", got, want)
	}
}
