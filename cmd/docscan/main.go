package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/docscan/internal/analysis"
	"github.com/dukerupert/docscan/internal/classify"
	"github.com/dukerupert/docscan/internal/config"
	"github.com/dukerupert/docscan/internal/database"
	"github.com/dukerupert/docscan/internal/llm"
	"github.com/dukerupert/docscan/internal/logging"
	"github.com/dukerupert/docscan/internal/quota"
	"github.com/dukerupert/docscan/internal/server"
	"github.com/dukerupert/docscan/internal/snapshot"
	"github.com/dukerupert/docscan/internal/store"
	ws "github.com/dukerupert/docscan/internal/websocket"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(os.Getenv("DOCSCAN_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Store.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var accounts quota.AccountStore
	switch cfg.Store.Driver {
	case "sqlite":
		accounts = store.NewSQLAccountStore(db)
	default:
		accounts = store.NewFileAccountStore(cfg.Store.AccountsPath)
	}

	tiers, err := cfg.TierSet()
	if err != nil {
		slog.Error("invalid tier table", "error", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid time zone", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(logger.With("component", "websocket"))

	ledger, err := quota.New(context.Background(), accounts, tiers,
		quota.WithLocation(loc),
		quota.WithLogger(logger.With("component", "quota")),
		quota.WithNotifier(hub.Notify),
	)
	if err != nil {
		slog.Error("failed to load accounts", "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		FolderID:    cfg.LLM.FolderID,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if !llmClient.Configured() {
		slog.Warn("completion API credentials missing, only local analysis is available")
	}

	svc := analysis.NewService(ledger, llmClient, classify.New(cfg.Classify), analysis.Options{
		MaxPromptRunes: cfg.Analysis.MaxPromptChars,
		MinTextRunes:   cfg.Analysis.MinTextChars,
	}, logger.With("component", "analysis"))

	var snapCfg snapshot.Config
	if cfg.Snapshot.Enabled {
		snapCfg = snapshot.Config{
			Endpoint:   cfg.Snapshot.Endpoint,
			Region:     cfg.Snapshot.Region,
			Bucket:     cfg.Snapshot.Bucket,
			Prefix:     cfg.Snapshot.Prefix,
			AccessKey:  cfg.Snapshot.AccessKey,
			SecretKey:  cfg.Snapshot.SecretKey,
			Passphrase: cfg.Snapshot.Passphrase,
		}
	}
	snapshots := snapshot.NewManager(snapCfg, ledger, logger)

	srv := server.New(cfg, server.Deps{
		DB:        db,
		Ledger:    ledger,
		Analysis:  svc,
		Snapshots: snapshots,
		Hub:       hub,
	}, logger)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Background cleanup goroutine
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				for _, l := range srv.Limiters() {
					l.Cleanup()
				}
			case <-bgCtx.Done():
				return
			}
		}
	}()

	if snapshots.Enabled() && cfg.Snapshot.Interval > 0 {
		go runSnapshots(bgCtx, snapshots, cfg.Snapshot.Interval)
	}

	go func() {
		slog.Info("docscan starting",
			"addr", addr,
			"store", cfg.Store.Driver,
			"tiers_version", tiers.Version(),
			"ai_available", svc.AIAvailable(),
			"snapshots", snapshots.Enabled(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func runSnapshots(ctx context.Context, m *snapshot.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.RunNow(ctx); err != nil {
				slog.Error("scheduled snapshot", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// hashPassword reads a password from stdin and prints its bcrypt hash for
// admin.password_hash.
func hashPassword() error {
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}
