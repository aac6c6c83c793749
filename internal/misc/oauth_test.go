package misc

import "testing"

func TestParseOAuthCallback(t *testing.T) {
	cases := []struct {
		name  string
		input string
		code  string
		state string
		err   string
		fails bool
		empty bool
	}{
		{name: "full url", input: "http://localhost:1455/auth/callback?code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "bare query", input: "code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "leading question mark", input: "?code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "code hash state", input: "http://localhost/cb?code=abc%23xyz", code: "abc", state: "xyz"},
		{name: "fragment", input: "http://localhost/cb#code=abc&state=xyz", code: "abc", state: "xyz"},
		{name: "provider error", input: "http://localhost/cb?error=access_denied", err: "access_denied"},
		{name: "empty", input: "   ", empty: true},
		{name: "no code", input: "http://localhost/cb?state=xyz", fails: true},
		{name: "garbage", input: "garbage", fails: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOAuthCallback(tc.input)
			if tc.fails {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOAuthCallback: %v", err)
			}
			if tc.empty {
				if got != nil {
					t.Fatalf("expected nil for empty input, got %+v", got)
				}
				return
			}
			if got.Code != tc.code || got.State != tc.state || got.Error != tc.err {
				t.Fatalf("got %+v", got)
			}
		})
	}
}
