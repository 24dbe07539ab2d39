package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trnrg/zeapi-identity-go/internal/idp"
	"github.com/trnrg/zeapi-identity-go/internal/identity"
	identityrepo "github.com/trnrg/zeapi-identity-go/internal/identity/repo"
	"github.com/trnrg/zeapi-identity-go/internal/router"
	"github.com/trnrg/zeapi-identity-go/pkg/database"
	"github.com/trnrg/zeapi-identity-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting zeapi-identity")

	// init db
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	repo := identityrepo.NewIdentityRepo(db)
	if err := repo.EnsureTables(context.Background()); err != nil {
		sugar.Fatalf("ensure tables: %v", err)
	}

	// IdP client with a static key-set snapshot
	idpCfg := idp.ConfigFromEnv()
	keys, err := idp.LoadKeySet(idpCfg.JWKSPath)
	if err != nil {
		sugar.Fatalf("load key set: %v", err)
	}
	client := idp.NewClient(idpCfg, keys, sugar)
	management := idp.NewManagementAPI(client, sugar)

	// identity flows
	reconciler := identity.NewReconciler(repo, management, sugar)
	authenticator := identity.NewAuthenticator(repo, client, reconciler, sugar)
	basic := identity.NewBasicAuth(authenticator, db, sugar)
	bearer := identity.NewBearerAuth(client, reconciler, db, sugar)
	loginHandler := identity.NewHandler(basic, bearer, sugar)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: router.RegisterRoutes(sugar, db, loginHandler),
	}

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(doneCtx); err != nil {
		sugar.Warnf("db ping on shutdown failed: %v", err)
	}
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
