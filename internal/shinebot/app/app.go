// Package app provides the main shinebot application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineshop/shinebot/internal/shinebot/counter"
	"github.com/shineshop/shinebot/internal/shinebot/distributor"
	"github.com/shineshop/shinebot/internal/shinebot/ledger"
	"github.com/shineshop/shinebot/internal/shinebot/messenger"
	"github.com/shineshop/shinebot/internal/shinebot/observability"
	"github.com/shineshop/shinebot/internal/shinebot/policy"
	"github.com/shineshop/shinebot/internal/shinebot/pool"
	"github.com/shineshop/shinebot/internal/shinebot/store"
	"github.com/shineshop/shinebot/internal/shinebot/templates"
)

// Names of the ledger partitions inside the SQLite store.
const (
	timestampTable = "issuance_times"
	countTable     = "interaction_counts"
)

// Config holds application configuration.
type Config struct {
	// Backend selects where the ledgers and the credential pool live:
	// "file" (the flat-file layout) or "sqlite". Defaults to "file".
	Backend string

	// TimestampPath, CountPath, and PoolPath locate the flat files when
	// Backend is "file".
	TimestampPath string
	CountPath     string
	PoolPath      string

	// DatabasePath is the SQLite database file. Required when Backend is
	// "sqlite"; with the file backend it is optional and, when set, enables
	// the issuance audit log.
	DatabasePath string

	// SharedSecret is the password paired with every issued identifier.
	SharedSecret string

	// VerifyToken is the webhook subscription handshake token.
	VerifyToken string

	// Messenger configures the outbound Graph API client.
	Messenger messenger.ClientConfig

	// HTTPAddr is the TCP address the webhook + health server listens on
	// (e.g. ":3000").
	HTTPAddr string

	// CataloguePath is an optional YAML file overriding the built-in reply
	// texts. Empty keeps the defaults.
	CataloguePath string

	// CooldownDays and Threshold override the distribution policy knobs.
	// Zero keeps the defaults.
	CooldownDays float64
	Threshold    int

	// TimeZone is the IANA zone for rendering issuance times in replies.
	// Empty keeps distributor.DefaultTimeZone.
	TimeZone string

	// Transport overrides the outbound message transport, for tests. When
	// nil a messenger.Client is built from the Messenger config.
	Transport distributor.Transport
}

// App wires the ledgers, the pool, the policy, and the webhook together.
type App struct {
	config       *Config
	store        *store.Store
	pool         pool.Source
	counter      *counter.Counter
	distributor  *distributor.Distributor
	webhook      *messenger.Webhook
	replies      *templates.Catalogue
	healthServer *HealthServer
}

// New creates a new shinebot application.
func New(config *Config) (*App, error) {
	replies, err := loadCatalogue(config.CataloguePath)
	if err != nil {
		return nil, err
	}

	a := &App{config: config, replies: replies}

	backend := config.Backend
	if backend == "" {
		backend = "file"
	}

	var (
		timestamps ledger.Table
		counts     ledger.Table
	)
	switch backend {
	case "sqlite":
		if config.DatabasePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		slog.Info("opening database", "path", config.DatabasePath)
		st, err := store.New(config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.store = st
		timestamps = st.LedgerTable(timestampTable)
		counts = st.LedgerTable(countTable)
		a.pool = st.Pool(config.SharedSecret)

	case "file":
		if config.TimestampPath == "" || config.CountPath == "" || config.PoolPath == "" {
			return nil, fmt.Errorf("file backend requires timestamp, count, and pool paths")
		}
		timestamps = ledger.NewFileTable(config.TimestampPath)
		counts = ledger.NewFileTable(config.CountPath)
		a.pool = pool.NewFilePool(config.PoolPath, config.SharedSecret)

		// The audit log lives in SQLite even when the ledgers are flat
		// files; skip it only when no database was configured.
		if config.DatabasePath != "" {
			slog.Info("opening audit database", "path", config.DatabasePath)
			st, err := store.New(config.DatabasePath)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize audit database: %w", err)
			}
			a.store = st
		}

	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	a.counter = counter.New(counts)
	pol := policy.New(timestamps, a.counter, policy.Config{
		CooldownDays: config.CooldownDays,
		Threshold:    config.Threshold,
	})

	transport := config.Transport
	if transport == nil {
		transport = messenger.NewClient(config.Messenger)
	}

	distCfg := distributor.Config{TimeZone: config.TimeZone}
	if a.store != nil {
		distCfg.Audit = a.store
	}
	a.distributor = distributor.New(pol, a.pool, a.counter, transport, replies, distCfg)

	a.webhook = messenger.NewWebhook(config.VerifyToken, a.handleMessage)

	a.healthServer = NewHealthServer(config.HTTPAddr, a.pool, a.counter)
	a.webhook.RegisterRoutes(a.healthServer)

	return a, nil
}

func loadCatalogue(path string) (*templates.Catalogue, error) {
	if path == "" {
		return templates.Default(), nil
	}
	replies, err := templates.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load reply catalogue: %w", err)
	}
	slog.Info("reply catalogue loaded", "path", path)
	return replies, nil
}

// Run starts the HTTP server and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.healthServer.Start(ctx); err != nil {
		return err
	}

	slog.Info("shinebot is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application.
func (a *App) Stop() {
	slog.Info("stopping HTTP server")
	a.healthServer.Stop()

	if a.store != nil {
		slog.Info("closing database")
		if err := a.store.Close(); err != nil {
			slog.Warn("database close error", "err", err)
		}
	}
}

// handleMessage processes one inbound webhook message. Every message from a
// real user counts as an interaction; the exact trigger word additionally
// starts a distribution attempt.
func (a *App) handleMessage(ctx context.Context, msg messenger.InboundMessage) {
	log := observability.WithTrace(ctx)

	// Echoes of the page's own outbound messages arrive with the page as
	// sender; those never count as interactions.
	if msg.SenderID == msg.RecipientID {
		return
	}

	count, err := a.counter.Increment(ctx, msg.SenderID)
	if err != nil {
		log.Error("failed to count interaction", "user", msg.SenderID, "err", err)
	} else {
		log.Debug("interaction counted", "user", msg.SenderID, "count", count)
	}

	// The trigger match is exact after trimming surrounding whitespace, so
	// copy-pasted trigger words with a trailing newline still work.
	if strings.TrimSpace(msg.Text) != a.replies.Trigger {
		return
	}

	log.Info("trigger received", "user", msg.SenderID)
	a.distributor.Handle(ctx, msg.SenderID)
}
