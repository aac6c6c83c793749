// Package main provides the entry point for the codex bridge. By default it
// serves an OpenAI-compatible API backed by a ChatGPT subscription; flags
// switch to login, logout or a one-shot prompt.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/router-for-me/CodexBridge/internal/buildinfo"
	"github.com/router-for-me/CodexBridge/internal/cmd"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/logging"
	"github.com/router-for-me/CodexBridge/internal/misc"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var login bool
	var logout bool
	var noBrowser bool
	var oauthCallbackPort int
	var configPath string
	var prompt string
	var model string

	flag.BoolVar(&login, "login", false, "Log in with a ChatGPT subscription using OAuth")
	flag.BoolVar(&logout, "logout", false, "Remove the stored credential")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&prompt, "prompt", "", "Send one prompt and print the answer")
	flag.StringVar(&model, "model", cmd.DefaultPromptModel, "Model used with -prompt")
	flag.Parse()

	if err := run(login, logout, noBrowser, oauthCallbackPort, configPath, prompt, model); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(login, logout, noBrowser bool, oauthCallbackPort int, configPath, prompt, model string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath, optional := resolveConfigPath(configPath, wd)
	cfg, err := config.LoadConfigOptional(configFilePath, optional)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	util.SetLogLevel(cfg)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	resolvedAuthDir, err := util.ResolveAuthDir(cfg.AuthDir)
	if err != nil {
		return fmt.Errorf("failed to resolve auth directory: %w", err)
	}
	cfg.AuthDir = resolvedAuthDir

	switch {
	case login:
		return cmd.DoLogin(cfg, &cmd.LoginOptions{
			NoBrowser:    noBrowser,
			CallbackPort: oauthCallbackPort,
		})
	case logout:
		return cmd.DoLogout(cfg)
	case strings.TrimSpace(prompt) != "":
		return cmd.DoPrompt(cfg, model, prompt)
	default:
		log.Info(buildinfo.Summary())
		return cmd.StartService(cfg, configFilePath)
	}
}

// resolveConfigPath picks the config file. An explicit -config must exist.
// Otherwise config.yaml under WRITABLE_PATH or the working directory is
// used, seeded from config.example.yaml when missing.
func resolveConfigPath(flagPath, wd string) (string, bool) {
	if flagPath != "" {
		return flagPath, false
	}
	base := wd
	if writable := util.WritablePath(); writable != "" {
		base = writable
	}
	configFilePath := filepath.Join(base, "config.yaml")
	if _, errStat := os.Stat(configFilePath); errors.Is(errStat, fs.ErrNotExist) {
		examplePath := filepath.Join(wd, "config.example.yaml")
		if _, errExample := os.Stat(examplePath); errExample == nil {
			if errCopy := misc.CopyConfigTemplate(examplePath, configFilePath); errCopy != nil {
				log.Warnf("failed to seed config from example: %v", errCopy)
			} else {
				log.Infof("created %s from config.example.yaml", configFilePath)
			}
		}
	}
	return configFilePath, true
}
