package util

import "testing"

func TestMaskSensitiveQuery(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: ""},
		{name: "untouched", raw: "a=1&b=2", want: "a=1&b=2"},
		{name: "code and state", raw: "code=abcdefghijkl&state=xy", want: "code=abcd...ijkl&state=xy"},
		{name: "token", raw: "refresh_token=0123456789", want: "refresh_token=0123...6789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaskSensitiveQuery(tc.raw); got != tc.want {
				t.Fatalf("MaskSensitiveQuery(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMaskSensitiveHeaderValue(t *testing.T) {
	if got := MaskSensitiveHeaderValue("Authorization", "Bearer abcdefghijkl"); got != "Bearer abcd...ijkl" {
		t.Fatalf("authorization masked as %q", got)
	}
	if got := MaskSensitiveHeaderValue("Chatgpt-Account-Id", "acct-123456789"); got != "acct...6789" {
		t.Fatalf("account id masked as %q", got)
	}
	if got := MaskSensitiveHeaderValue("Accept", "text/event-stream"); got != "text/event-stream" {
		t.Fatalf("accept should be unchanged, got %q", got)
	}
}
