package codex

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func makeJWT(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(raw) + ".signature"
}

func TestAccountIDFromToken(t *testing.T) {
	cases := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{
			name:  "namespaced claim",
			token: makeJWT(t, map[string]any{"sub": "user-1", accountClaim: map[string]any{"chatgpt_account_id": "acct-42"}}),
			want:  "acct-42",
		},
		{
			name:  "subject fallback",
			token: makeJWT(t, map[string]any{"sub": "user-1"}),
			want:  "user-1",
		},
		{
			name:    "missing",
			token:   makeJWT(t, map[string]any{"email": "a@b.c"}),
			wantErr: ErrAccountIDMissing,
		},
		{
			name:    "two segments",
			token:   "abc.def",
			wantErr: ErrMalformedToken,
		},
		{
			name:    "undecodable payload",
			token:   "abc.!!!.sig",
			wantErr: ErrMalformedToken,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AccountIDFromToken(tc.token)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("account id = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBase64URLDecodeRestoresPadding(t *testing.T) {
	for _, plain := range []string{"a", "ab", "abc", "abcd"} {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(plain))
		decoded, err := base64URLDecode(encoded)
		if err != nil {
			t.Fatalf("decode %q: %v", encoded, err)
		}
		if string(decoded) != plain {
			t.Fatalf("decoded %q, want %q", decoded, plain)
		}
	}
}
