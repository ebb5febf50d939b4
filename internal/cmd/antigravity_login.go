// Package cmd implements the top-level operations behind the CLI flags:
// interactive account login and one-shot streaming generation.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agpool/agpool/internal/account"
	"github.com/agpool/agpool/internal/auth/antigravity"
	"github.com/agpool/agpool/internal/config"
	log "github.com/sirupsen/logrus"
)

// LoginOptions carries the CLI flags relevant to the login flow.
type LoginOptions struct {
	NoBrowser    bool
	CallbackPort int
	ProjectID    string
}

// DoAntigravityLogin runs the interactive OAuth flow and stores the resulting
// account in the pool, looping while the user wants to add more accounts.
func DoAntigravityLogin(cfg *config.Config, pool *account.Pool, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}

	for {
		if err := loginOnce(cfg, pool, options); err != nil {
			fmt.Printf("Antigravity authentication failed: %v\n", err)
			if !askYesNo("Retry authentication? (y/n): ") {
				return
			}
			continue
		}
		fmt.Println("Antigravity authentication successful!")
		if !askYesNo("Add another account? (y/n): ") {
			return
		}
	}
}

func loginOnce(cfg *config.Config, pool *account.Pool, options *LoginOptions) error {
	authSvc := antigravity.NewAntigravityAuth(cfg, nil)
	provisioned, err := authSvc.Login(context.Background(), cfg, &antigravity.LoginOptions{
		NoBrowser:    options.NoBrowser,
		CallbackPort: options.CallbackPort,
		ProjectID:    options.ProjectID,
		Prompt:       stdinPrompt,
	})
	if err != nil {
		return err
	}
	return StoreProvisionedAccount(pool, provisioned)
}

// StoreProvisionedAccount converts a login result into a pool record and
// persists it.
func StoreProvisionedAccount(pool *account.Pool, provisioned *antigravity.ProvisionedAccount) error {
	acct := account.FromProvisioned(provisioned)
	if err := pool.AddAccount(acct); err != nil {
		return err
	}
	log.Infof("stored account %q (project %q, tier %s)", acct.Email, acct.ProjectID, acct.Tier)
	return nil
}

func stdinPrompt(message string) (string, error) {
	fmt.Print(message)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func askYesNo(message string) bool {
	answer, err := stdinPrompt(message)
	if err != nil {
		return false
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}
