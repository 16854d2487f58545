package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"

	"graphgate.org/internal/access"
	"graphgate.org/internal/account"
	"graphgate.org/internal/auth"
	"graphgate.org/internal/config"
	"graphgate.org/internal/graph"
	"graphgate.org/internal/httpapi"
	"graphgate.org/internal/identity"
	"graphgate.org/internal/obs"
	"graphgate.org/internal/session"
	"graphgate.org/internal/sso"
	"graphgate.org/internal/token"
)

var version = "0.3.0"

func main() {
	configPath := flag.String("config", os.Getenv("GRAPHGATE_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GRAPHGATE_COMMIT"))

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	codec, err := token.NewCodec(cfg.Token.Secret, cfg.Token.Issuer)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	sessions := session.NewRedisRegistry(rdb, "session")

	graphStore := graph.NewPGStore(db)
	userStore := identity.NewPGStore(db)

	gateway, err := auth.NewGateway(codec, sessions, userStore, graphStore)
	if err != nil {
		log.Fatalf("auth gateway: %v", err)
	}

	accessSvc, err := access.NewService(graphStore)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	accounts, err := account.NewService(db, userStore, userStore, graphStore, codec, sessions,
		account.WithTokenTTL(cfg.Token.TTL),
		account.WithSessionTTL(cfg.Session.TTL),
		account.WithCodeTTL(cfg.Verify.CodeTTL),
	)
	if err != nil {
		log.Fatalf("account service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	providers, err := sso.NewRegistry(ctx, cfg.SSO)
	cancel()
	if err != nil {
		log.Fatalf("sso providers: %v", err)
	}

	api := httpapi.New(cfg.HTTP,
		httpapi.ReadyProbe{DB: db, Redis: rdb},
		version, gateway, accounts, accessSvc, graphStore, providers)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Printf("Starting graphgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.HTTP.ShutdownGraceSecs)*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = rdb.Close()
	_ = db.Close()
	log.Println("Stopped")
}
