package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/provider"
	"github.com/router-for-me/CodexBridge/internal/registry"
)

// DefaultPromptModel is used by -prompt when -model is not given.
const DefaultPromptModel = "gpt-5.1-codex-medium"

// DoPrompt sends one prompt and prints the assistant text to stdout.
func DoPrompt(cfg *config.Config, model, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt is empty")
	}
	if model == "" {
		model = DefaultPromptModel
	}
	if _, ok := registry.GetModelInfo(model); !ok {
		fmt.Fprintf(os.Stderr, "warning: %s is not a known model, sending it as-is\n", model)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p, closeFn, err := provider.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	text, err := p.Complete(ctx, model, prompt)
	if err != nil {
		if errors.Is(err, codex.ErrNotAuthenticated) {
			return fmt.Errorf("not logged in, run with -login first: %w", err)
		}
		return err
	}
	fmt.Println(text)
	return nil
}
