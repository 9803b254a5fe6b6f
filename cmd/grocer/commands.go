package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/grocer/internal/agent"
	"github.com/kalambet/grocer/internal/api"
	"github.com/kalambet/grocer/internal/catalog"
	"github.com/kalambet/grocer/internal/config"
	"github.com/kalambet/grocer/internal/index"
	"github.com/kalambet/grocer/internal/openai"
	"github.com/kalambet/grocer/internal/storage"
	"github.com/kalambet/grocer/internal/tools"
)

// app bundles the wired components shared by every command.
type app struct {
	cfg          config.Config
	store        *storage.Store
	idx          *index.Index
	registry     *tools.Registry
	orchestrator *agent.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client, err := openai.New(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		ChatModel:   cfg.OpenAI.ChatModel,
		EmbedModel:  cfg.OpenAI.EmbedModel,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	idx := index.New(index.NewSQLiteStore(store.DB()), client)
	registry := tools.NewRegistry(idx)
	orchestrator := agent.New(client, registry,
		cfg.Agent.MaxSteps,
		time.Duration(cfg.Agent.TurnTimeoutSeconds)*time.Second,
	)

	return &app{
		cfg:          cfg,
		store:        store,
		idx:          idx,
		registry:     registry,
		orchestrator: orchestrator,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// ensureIndex loads the catalog and makes the index queryable. A build
// failure is fatal: sessions cannot run against an empty index.
func (a *app) ensureIndex(ctx context.Context) error {
	products, skipped, err := catalog.LoadFile(a.cfg.Storage.CatalogPath)
	if err != nil {
		return err
	}
	if skipped > 0 {
		printWarning("skipped %d invalid catalog records", skipped)
	}
	return a.idx.BuildOrLoad(ctx, products)
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build or load the index and serve the assistant (HTTP + MCP)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.ensureIndex(ctx); err != nil {
		return err
	}

	sessions := api.NewSessionStore(30 * time.Minute)
	go sessions.Run(ctx)

	handler := api.NewHandler(api.ChatDeps{
		Runner:   a.orchestrator,
		Sessions: sessions,
		Rebuild: func(ctx context.Context) error {
			products, skipped, err := catalog.LoadFile(a.cfg.Storage.CatalogPath)
			if err != nil {
				return err
			}
			if skipped > 0 {
				slog.Warn("skipped invalid catalog records", "count", skipped)
			}
			return a.idx.Rebuild(ctx, products)
		},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// MCP server on stdio, so editor/agent clients can use the tools directly.
	mcpSrv := api.NewMCPServer(a.registry)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "grocer listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run one question through the assistant and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.ensureIndex(ctx); err != nil {
			return err
		}

		conv := agent.NewConversation("")
		answer, err := a.orchestrator.Run(ctx, conv, question)
		// A failed turn still has a user-facing answer; print it, then
		// report the failure through the exit code.
		fmt.Println(answer)
		return err
	},
}

// --- rebuild ---

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Delete the persisted index and regenerate it from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		products, skipped, err := catalog.LoadFile(a.cfg.Storage.CatalogPath)
		if err != nil {
			return err
		}
		if skipped > 0 {
			printWarning("skipped %d invalid catalog records", skipped)
		}

		if err := a.idx.Rebuild(ctx, products); err != nil {
			return err
		}
		printSuccess("Index rebuilt with %d products", len(products))
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		exists, err := a.idx.Exists()
		if err != nil {
			return err
		}
		if !exists {
			printWarning("index not built (run 'grocer serve' or 'grocer rebuild')")
			return nil
		}

		count, err := a.idx.Count()
		if err != nil {
			return err
		}
		printStatus("Index", "%d products", count)
		printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
		printStatus("Catalog", "%s", a.cfg.Storage.CatalogPath)
		return nil
	},
}
