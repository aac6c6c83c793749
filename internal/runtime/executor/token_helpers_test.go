package executor

import "testing"

func TestCountTokens(t *testing.T) {
	empty, err := CountTokens("gpt-5-codex", nil)
	if err != nil || empty != 0 {
		t.Fatalf("empty payload = %d, %v", empty, err)
	}

	short, err := CountTokens("gpt-5-codex", []byte(`{"input":"hello"}`))
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if short <= 0 {
		t.Fatalf("short count = %d", short)
	}

	long, err := CountTokens("gpt-5.1-codex-high", []byte(`{
		"instructions":"be terse",
		"input":[
			{"type":"message","role":"user","content":[{"type":"input_text","text":"hello there, list the files in this repository"}]},
			{"type":"function_call","name":"ls","arguments":"{\"path\":\".\"}"},
			{"type":"function_call_output","output":"main.go go.mod README.md"}
		],
		"tools":[{"type":"function","name":"ls","parameters":{"type":"object"}}]
	}`))
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if long <= short {
		t.Fatalf("long count %d not above short count %d", long, short)
	}

	chat, err := CountTokens("gpt-5", []byte(`{"messages":[{"role":"user","content":"hello"}]}`))
	if err != nil || chat <= 0 {
		t.Fatalf("chat count = %d, %v", chat, err)
	}
}
