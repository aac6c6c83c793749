// Package misc holds small helpers for the interactive login flow: parsing
// a pasted callback URL and copying text to the clipboard.
package misc

import (
	"errors"
	"net/url"
	"strings"
)

var (
	errInvalidCallback = errors.New("invalid callback URL")
	errMissingCode     = errors.New("callback URL missing code")
)

// OAuthCallback holds the parameters of a pasted authorization redirect.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseOAuthCallback reads the authorization redirect the user pasted when
// the local callback server could not be reached. It accepts the full
// redirect URL, a bare query string, or "code#state". Empty input yields
// nil, nil so callers can keep waiting.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	raw, err := asCallbackURL(trimmed)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	// Parameters may sit in the query or, for implicit-style redirects, in the fragment.
	sources := []url.Values{parsed.Query()}
	if parsed.Fragment != "" {
		if fragment, errFrag := url.ParseQuery(parsed.Fragment); errFrag == nil {
			sources = append(sources, fragment)
		}
	}
	param := func(name string) string {
		for _, values := range sources {
			if v := strings.TrimSpace(values.Get(name)); v != "" {
				return v
			}
		}
		return ""
	}

	cb := &OAuthCallback{
		Code:             param("code"),
		State:            param("state"),
		Error:            param("error"),
		ErrorDescription: param("error_description"),
	}
	if cb.State == "" {
		if code, state, found := strings.Cut(cb.Code, "#"); found {
			cb.Code, cb.State = code, state
		}
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	if cb.Code == "" && cb.Error == "" {
		return nil, errMissingCode
	}
	return cb, nil
}

// asCallbackURL turns the accepted shorthand forms into a parseable URL.
func asCallbackURL(input string) (string, error) {
	switch {
	case strings.Contains(input, "://"):
		return input, nil
	case strings.HasPrefix(input, "?"):
		return "http://localhost" + input, nil
	case strings.ContainsAny(input, "/?#:"):
		return "http://" + input, nil
	case strings.Contains(input, "="):
		return "http://localhost/?" + input, nil
	default:
		return "", errInvalidCallback
	}
}
