package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/misc"
	log "github.com/sirupsen/logrus"
)

// manualPromptDelay is how long Authenticate waits for the browser callback
// before also offering to paste the callback URL.
const manualPromptDelay = 15 * time.Second

// AuthResult is the outcome of Authenticate. Err is an *codex.AuthError
// whenever the failure came from the authorization flow.
type AuthResult struct {
	Success bool
	Err     error
}

// LoginOptions controls the interactive part of Authenticate.
type LoginOptions struct {
	// NoBrowser prints the URL instead of opening it.
	NoBrowser bool
	// Prompt, when set, is offered after a short wait so the user can paste
	// the callback URL from another machine.
	Prompt func(prompt string) (string, error)
	// Output receives user-facing messages. Defaults to stdout.
	Output io.Writer
}

// Authenticate runs the PKCE authorization-code flow: it issues a URL,
// waits for the loopback callback (or a pasted URL), checks the state,
// exchanges the code and stores the credential. The pending verifier and
// state are removed on every exit path.
func (p *Provider) Authenticate(ctx context.Context) (result AuthResult) {
	ctx, cancel := context.WithTimeout(ctx, p.authTimeout)
	defer cancel()

	defer func() {
		if errClear := p.tokens.ClearPendingAuthorization(context.WithoutCancel(ctx)); errClear != nil {
			log.Warnf("failed to clear pending authorization: %v", errClear)
		}
		if result.Err != nil {
			log.Errorf("authentication failed: %v", result.Err)
		}
	}()

	cred, err := p.authorize(ctx)
	if err != nil {
		return AuthResult{Err: err}
	}
	if err = p.tokens.SaveTokens(ctx, cred); err != nil {
		return AuthResult{Err: fmt.Errorf("failed to save credential: %w", err)}
	}
	p.printf("Authentication successful%s\n", emailSuffix(cred.Email))
	return AuthResult{Success: true}
}

func (p *Provider) authorize(ctx context.Context) (*codex.Credential, error) {
	authReq, err := p.oauth.BuildAuthorizationURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization url: %w", err)
	}
	if err = p.tokens.StorePendingVerifier(ctx, authReq.Verifier); err != nil {
		return nil, fmt.Errorf("failed to store verifier: %w", err)
	}
	if err = p.tokens.StorePendingState(ctx, authReq.State); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	server := codex.NewOAuthServer(p.cfg.OAuthCallbackPort)
	if err = server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if errStop := server.Stop(stopCtx); errStop != nil {
			log.Warnf("callback server stop error: %v", errStop)
		}
	}()

	p.presentURL(authReq.URL)

	callback, err := p.waitForCallback(ctx, server)
	if err != nil {
		return nil, err
	}
	if callback.Error != "" {
		return nil, codex.NewAuthError(codex.KindTokenExchangeFailed, callback.Error, nil)
	}

	state, ok, err := p.tokens.GetPendingState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending state: %w", err)
	}
	if !ok || callback.State != state {
		return nil, codex.NewAuthError(codex.KindStateMismatch, "callback state does not match", nil)
	}
	verifier, ok, err := p.tokens.GetPendingVerifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending verifier: %w", err)
	}
	if !ok {
		return nil, codex.NewAuthError(codex.KindStateMismatch, "no pending authorization", nil)
	}

	log.Debug("authorization code received, exchanging for tokens")
	return p.oauth.ExchangeCode(ctx, callback.Code, verifier)
}

func (p *Provider) presentURL(authURL string) {
	if !p.login.NoBrowser {
		p.printf("Opening browser for authentication\n")
		err := p.openURL(authURL)
		if err == nil {
			return
		}
		log.Warnf("failed to open browser automatically: %v", err)
	}
	if err := p.copyText(authURL); err == nil {
		p.printf("The authorization URL was copied to the clipboard.\n")
	}
	p.printf("Visit the following URL to continue authentication:\n%s\n", authURL)
}

func (p *Provider) waitForCallback(ctx context.Context, server *codex.OAuthServer) (*codex.OAuthResult, error) {
	p.printf("Waiting for authentication callback...\n")

	type outcome struct {
		result *codex.OAuthResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := server.WaitForCallback(ctx, p.authTimeout)
		done <- outcome{result, err}
	}()

	var promptC <-chan time.Time
	if p.login.Prompt != nil {
		timer := time.NewTimer(manualPromptDelay)
		defer timer.Stop()
		promptC = timer.C
	}

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, callbackError(out.err)
			}
			return out.result, nil
		case <-promptC:
			promptC = nil
			input, err := p.login.Prompt("Paste the callback URL (or press Enter to keep waiting): ")
			if err != nil {
				return nil, err
			}
			parsed, err := misc.ParseOAuthCallback(input)
			if err != nil {
				return nil, err
			}
			if parsed == nil {
				continue
			}
			return &codex.OAuthResult{Code: parsed.Code, State: parsed.State, Error: parsed.Error}, nil
		}
	}
}

func callbackError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return codex.NewAuthError(codex.KindCallbackTimeout, "no callback before the login deadline", err)
	}
	return err
}

func (p *Provider) printf(format string, args ...any) {
	out := p.login.Output
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

func emailSuffix(email string) string {
	if email == "" {
		return ""
	}
	return " for " + email
}

func copyToClipboard(text string) error {
	return misc.CopyToClipboard(text)
}
