package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/pollchat/pollchat/internal/api"
	"github.com/pollchat/pollchat/internal/chat"
	"github.com/pollchat/pollchat/internal/config"
	"github.com/pollchat/pollchat/internal/database"
	"github.com/pollchat/pollchat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	inMemory       bool
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.BoolVar(&inMemory, "in-memory", false, "use the in-memory store instead of Postgres")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[pollchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, inMemory)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.ChatRepository
	if cfg.InMemory {
		logger.Println("using in-memory store; data will not survive a restart")
		repo = database.NewMemChatRepository()
	} else {
		pgRepo, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pgRepo.Close(); err != nil {
				logger.Fatal("db close:", err)
			}
		}()

		if err := pgRepo.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
		repo = pgRepo
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatService, err := chat.NewService(logger, repo, statsUpdater)
	if err != nil {
		logger.Fatal("new chat service:", err)
	}

	srv := api.NewChatApp(mux, logger, chatService, repo, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
