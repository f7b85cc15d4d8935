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
	"github.com/npezzotti/go-voicechat/internal/api"
	"github.com/npezzotti/go-voicechat/internal/config"
	"github.com/npezzotti/go-voicechat/internal/database"
	"github.com/npezzotti/go-voicechat/internal/server"
	"github.com/npezzotti/go-voicechat/internal/session"
	"github.com/npezzotti/go-voicechat/internal/stats"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	statsMapName      = "govoicechat-stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	sessionStore   string
	redisURL       string
)

// loadSettings merges the optional config file with the command line.
// Flags given explicitly win over the file.
func loadSettings() (config.File, error) {
	f := config.File{
		ServerAddr:     addr,
		DatabaseDSN:    dsn,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		SessionStore:   sessionStore,
		RedisURL:       redisURL,
	}
	if configPath == "" {
		return f, nil
	}

	fromFile, err := config.LoadFile(configPath, f)
	if err != nil {
		return f, err
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			fromFile.ServerAddr = addr
		case "dsn":
			fromFile.DatabaseDSN = dsn
		case "signing-key":
			fromFile.SigningKey = signingKey
		case "allowed-origins":
			fromFile.AllowedOrigins = allowedOrigins
		case "session-store":
			fromFile.SessionStore = sessionStore
		case "redis-url":
			fromFile.RedisURL = redisURL
		}
	})

	return fromFile, nil
}

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&sessionStore, "session-store", config.SessionStoreMemory, "session registry backend: memory or redis")
	flag.StringVar(&redisURL, "redis-url", "", "redis address or URL for the redis session store")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-voicechat] ", log.LstdFlags)

	settings, err := loadSettings()
	if err != nil {
		logger.Fatal("config file: ", err)
	}

	cfg, err := config.NewConfig(
		settings.ServerAddr,
		settings.DatabaseDSN,
		settings.SigningKey,
		settings.AllowedOrigins,
		settings.SessionStore,
		settings.RedisURL,
	)
	if err != nil {
		logger.Fatal("config: ", err)
	}

	dbConn, err := database.NewPgGoVoiceChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate: ", err)
	}

	var (
		sessions session.Registry
		shared   *session.RedisRegistry
	)
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		rdb, err := session.Connect(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis: ", err)
		}
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping: ", err)
		}

		shared = session.NewRedisRegistry(rdb, "")
		sessions = shared
	default:
		sessions = session.NewMemoryRegistry()
	}
	logger.Printf("using %s session store", cfg.SessionStore)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, statsMapName)

	hub := server.NewHub(logger)
	coord := server.NewCoordinator(logger, dbConn, sessions, hub)

	if shared != nil {
		coord.SetEvictionPublisher(shared)
		stopWatch, err := shared.WatchEvictions(context.Background(), coord.EvictConnection)
		if err != nil {
			logger.Fatal("redis evictions: ", err)
		}
		defer stopWatch()
	}
	lm := server.NewLifecycleManager(logger, hub, coord, statsUpdater)

	srv := api.NewGoVoiceChatApp(mux, logger, lm, dbConn, sessions, cfg)

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
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("disconnecting clients...")
	if err := lm.Shutdown(shutDownCtx); err != nil {
		logger.Println("client shutdown:", err)
	}

	logger.Println("shutdown complete")
}
