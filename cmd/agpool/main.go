// Package main provides the entry point for the agpool CLI.
// agpool maintains a pool of Antigravity accounts and streams Code Assist
// generations through them with automatic token refresh, rate-limit rotation
// and endpoint failover.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agpool/agpool/internal/account"
	"github.com/agpool/agpool/internal/auth/antigravity"
	"github.com/agpool/agpool/internal/buildinfo"
	"github.com/agpool/agpool/internal/cmd"
	"github.com/agpool/agpool/internal/config"
	"github.com/agpool/agpool/internal/logging"
	"github.com/joho/godotenv"
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
	fmt.Printf("agpool Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var login bool
	var noBrowser bool
	var oauthCallbackPort int
	var projectID string
	var configPath string
	var model string
	var prompt string
	var system string

	flag.BoolVar(&login, "login", false, "Login to Antigravity using OAuth")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port (defaults to provider-specific port)")
	flag.StringVar(&projectID, "project_id", "", "Project ID (not required)")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.StringVar(&model, "model", "gemini-3-pro", "Model to request")
	flag.StringVar(&prompt, "prompt", "", "Prompt text (reads stdin when empty)")
	flag.StringVar(&system, "system", "", "Optional system instruction")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, errCfg := config.LoadConfig(configPath)
	if errCfg != nil {
		log.Errorf("failed to load config: %v", errCfg)
		return
	}
	if errLog := logging.ConfigureLogOutput(cfg); errLog != nil {
		log.Warnf("failed to configure log output: %v", errLog)
	}

	store := account.NewFileStore(cfg.AccountsFilePath())
	refresher := antigravity.NewAntigravityAuth(cfg, nil)
	pool, errPool := account.NewPool(store, refresher)
	if errPool != nil {
		log.Errorf("failed to load account pool: %v", errPool)
		return
	}
	log.Debugf("loaded %d account(s) from %s", pool.Len(), cfg.AccountsFilePath())

	if login {
		cmd.DoAntigravityLogin(cfg, pool, &cmd.LoginOptions{
			NoBrowser:    noBrowser,
			CallbackPort: oauthCallbackPort,
			ProjectID:    projectID,
		})
		return
	}

	if errRun := cmd.DoGenerate(cfg, pool, &cmd.GenerateOptions{
		Model:        model,
		Prompt:       prompt,
		System:       system,
		NoBrowser:    noBrowser,
		CallbackPort: oauthCallbackPort,
	}); errRun != nil {
		log.Errorf("generation failed: %v", errRun)
		os.Exit(1)
	}
}
