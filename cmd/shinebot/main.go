// Shinebot is the shared-account distribution bot binary.
//
// All configuration is loaded from environment variables. The bot listens for
// Messenger webhook deliveries, counts user interactions, and hands out
// pooled account logins to eligible users.
//
// Required environment variables:
//
//	SHINEBOT_VERIFY_TOKEN  - webhook subscription handshake token
//	SHINEBOT_ACCESS_TOKEN  - page access token for the Graph API
//	SHINEBOT_SHARED_SECRET - password paired with every issued account
//
// Optional environment variables:
//
//	SHINEBOT_HTTP_ADDR      - listen address (default ":5000")
//	SHINEBOT_BACKEND        - "file" (default) or "sqlite"
//	SHINEBOT_TIMESTAMP_PATH - issuance-time ledger file (default "./DATE.txt")
//	SHINEBOT_COUNT_PATH     - interaction-count ledger file (default "./MESSAGE_COUNT.txt")
//	SHINEBOT_POOL_PATH      - account pool file (default "./QUIZLET.txt")
//	SHINEBOT_DB_PATH        - SQLite database; required for the sqlite
//	                          backend, enables the audit log otherwise
//	SHINEBOT_CATALOGUE      - YAML file overriding the built-in reply texts
//	SHINEBOT_GRAPH_BASE_URL - Graph API base URL override
//	SHINEBOT_COOLDOWN_DAYS  - cooldown window length (default 22)
//	SHINEBOT_THRESHOLD      - interaction count to exceed (default 5)
//	SHINEBOT_TIME_ZONE      - zone for times in replies (default "Asia/Ho_Chi_Minh")
//	SHINEBOT_SKIP_TOKEN_CHECK - skip the startup Graph API token probe
//	LOG_LEVEL               - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT              - "text" or "json" (default: "text")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shineshop/shinebot/common/environment"
	"github.com/shineshop/shinebot/common/retry"
	"github.com/shineshop/shinebot/common/version"
	"github.com/shineshop/shinebot/internal/shinebot/app"
	"github.com/shineshop/shinebot/internal/shinebot/messenger"
	"github.com/shineshop/shinebot/internal/shinebot/observability"
)

func main() {
	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	slog.Info("shinebot starting", "build", version.Info())

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// Probe the Graph API once so a dead token fails fast instead of
	// surfacing as silent send errors later. Deliveries are never retried;
	// this startup call is the one place backoff is welcome.
	if !environment.BoolOr("SHINEBOT_SKIP_TOKEN_CHECK", false) {
		client := messenger.NewClient(cfg.Messenger)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := retry.Do(ctx, retry.DefaultConfig, func() error {
			return client.CheckToken(ctx)
		})
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: page access token check failed: %v\n", err)
			os.Exit(1)
		}
		slog.Info("page access token verified")
	}

	bot, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize shinebot", "err", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		slog.Error("shinebot exited with error", "err", err)
		os.Exit(1)
	}
}

// loadConfig builds the application config from the environment.
func loadConfig() (*app.Config, error) {
	verifyToken, err := environment.RequiredString("SHINEBOT_VERIFY_TOKEN")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("SHINEBOT_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}
	sharedSecret, err := environment.RequiredString("SHINEBOT_SHARED_SECRET")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		Backend:       environment.StringOr("SHINEBOT_BACKEND", "file"),
		TimestampPath: environment.StringOr("SHINEBOT_TIMESTAMP_PATH", "./DATE.txt"),
		CountPath:     environment.StringOr("SHINEBOT_COUNT_PATH", "./MESSAGE_COUNT.txt"),
		PoolPath:      environment.StringOr("SHINEBOT_POOL_PATH", "./QUIZLET.txt"),
		DatabasePath:  environment.StringOr("SHINEBOT_DB_PATH", ""),
		SharedSecret:  sharedSecret,
		VerifyToken:   verifyToken,
		Messenger: messenger.ClientConfig{
			AccessToken: accessToken,
			BaseURL:     environment.StringOr("SHINEBOT_GRAPH_BASE_URL", ""),
		},
		HTTPAddr:      environment.StringOr("SHINEBOT_HTTP_ADDR", ":5000"),
		CataloguePath: environment.StringOr("SHINEBOT_CATALOGUE", ""),
		CooldownDays:  environment.FloatOr("SHINEBOT_COOLDOWN_DAYS", 0),
		Threshold:     environment.IntOr("SHINEBOT_THRESHOLD", 0),
		TimeZone:      environment.StringOr("SHINEBOT_TIME_ZONE", ""),
	}, nil
}
