package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/provider"
	log "github.com/sirupsen/logrus"
)

// LoginOptions contains options for the login process.
type LoginOptions struct {
	// NoBrowser indicates whether to skip opening the browser automatically.
	NoBrowser bool

	// CallbackPort overrides the local OAuth callback port when set (>0).
	CallbackPort int

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)
}

// DoLogin runs the subscription OAuth flow and stores the credential in the
// configured secret backend.
func DoLogin(cfg *config.Config, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}
	if options.CallbackPort > 0 {
		cfg.OAuthCallbackPort = options.CallbackPort
	}

	promptFn := options.Prompt
	if promptFn == nil {
		promptFn = defaultPrompt()
	}

	ctx := context.Background()
	p, closeFn, err := provider.Open(ctx, cfg, nil, provider.WithLoginOptions(provider.LoginOptions{
		NoBrowser: options.NoBrowser,
		Prompt:    promptFn,
		Output:    os.Stdout,
	}))
	if err != nil {
		return err
	}
	defer closeFn()

	if p.IsAuthenticated() {
		fmt.Println("Replacing the stored credential.")
	}

	result := p.Authenticate(ctx)
	if !result.Success {
		var authErr *codex.AuthError
		if errors.As(result.Err, &authErr) {
			log.Error(codex.GetUserFriendlyMessage(authErr))
		}
		return fmt.Errorf("codex authentication failed: %w", result.Err)
	}
	if path := p.SecretPath(); path != "" {
		fmt.Printf("Authentication saved to %s\n", path)
	}
	fmt.Println("Codex authentication successful!")
	return nil
}

// DoLogout removes the stored credential.
func DoLogout(cfg *config.Config) error {
	ctx := context.Background()
	p, closeFn, err := provider.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !p.IsAuthenticated() {
		fmt.Println("No stored credential.")
	}
	if err = p.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func defaultPrompt() func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		value, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	}
}
