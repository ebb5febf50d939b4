package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agpool/agpool/internal/account"
	"github.com/agpool/agpool/internal/config"
	"github.com/agpool/agpool/internal/runtime/executor"
	"github.com/agpool/agpool/internal/watcher"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// GenerateOptions carries the CLI flags for a one-shot generation call.
type GenerateOptions struct {
	Model        string
	Prompt       string
	System       string
	NoBrowser    bool
	CallbackPort int
}

// DoGenerate streams one generation to stdout. The prompt comes from the
// -prompt flag or, when absent, from stdin. An empty pool triggers an
// interactive login before the request proceeds.
func DoGenerate(cfg *config.Config, pool *account.Pool, options *GenerateOptions) error {
	if options == nil {
		options = &GenerateOptions{}
	}

	prompt := options.Prompt
	if strings.TrimSpace(prompt) == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("no prompt given: pass -prompt or pipe text on stdin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background watcher so external edits to the accounts file are picked up
	// while the request is in flight.
	go func() {
		w := watcher.NewWatcher(pool, cfg.AccountsFilePath())
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("accounts watcher stopped: %v", err)
		}
	}()

	engine := executor.NewEngine(cfg, pool, nil)
	engine.Bootstrap = func(ctx context.Context) error {
		fmt.Println("No Antigravity accounts found. Starting authentication...")
		return loginOnce(cfg, pool, &LoginOptions{
			NoBrowser:    options.NoBrowser,
			CallbackPort: options.CallbackPort,
		})
	}

	messages := `[]`
	if options.System != "" {
		turn, _ := sjson.Set(`{"role":"system"}`, "content", options.System)
		messages, _ = sjson.SetRaw(messages, "-1", turn)
	}
	turn, _ := sjson.Set(`{"role":"user"}`, "content", prompt)
	messages, _ = sjson.SetRaw(messages, "-1", turn)

	ch, err := engine.ExecuteStream(ctx, &executor.Request{
		Model:    options.Model,
		Messages: []byte(messages),
	})
	if err != nil {
		return err
	}

	for chunk := range ch {
		if chunk.Err != nil {
			fmt.Println()
			return fmt.Errorf("stream ended early: %w", chunk.Err)
		}
		fmt.Print(chunk.Text)
	}
	fmt.Println()
	return nil
}
