// magiclinks issues a sign-in link for every active user and prints them as
// CSV (email,url). Links are mirrored to the user table, so any server
// instance can redeem them.
//
// Run: go run ./cmd/magiclinks -concurrency 4 > links.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/prospect-portal/config"
	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/email"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/records"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/recordstore"
	ctxlog "github.com/ErlanBelekov/prospect-portal/internal/log"
	"github.com/ErlanBelekov/prospect-portal/internal/magiclink"
	"github.com/ErlanBelekov/prospect-portal/internal/usecase"
	"github.com/lmittmann/tint"
)

func main() {
	concurrency := flag.Int("concurrency", 4, "links issued in parallel")
	limit := flag.Int("limit", 1000, "maximum users to read")
	flag.Parse()

	if err := run(*concurrency, *limit); err != nil {
		log.Fatalf("magiclinks: %v", err)
	}
}

func run(concurrency, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// stdout carries the CSV, so logs go to stderr.
	logger := slog.New(ctxlog.NewContextHandler(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.SlogLevel(),
		TimeFormat: time.Kitchen,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := recordstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer closeStore()

	users := records.NewUserRepository(store, cfg.AirtableUsersTable, logger)
	links := usecase.NewMagicLinkUsecase(
		users,
		magiclink.NewMemoryStore(time.Now),
		email.NewSender("local", "", "", logger),
		usecase.NewLinkResolver(cfg.ProductionURL, cfg.AuthBaseURL, cfg.FallbackOrigin),
		logger,
		usecase.WithTTL(cfg.MagicLinkTTL()),
		usecase.WithCallTimeout(cfg.ExternalCallTimeout),
	)

	w := csv.NewWriter(os.Stdout)
	if err := w.Write([]string{"email", "url"}); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	res, err := usecase.NewBulkIssuer(users, links, concurrency, logger).
		IssueAll(ctx, limit, func(l *domain.IssuedLink) error {
			return w.Write([]string{l.Email, l.URL})
		})
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	logger.Info("done", "issued", res.Issued, "skipped", res.Skipped)
	return err
}
