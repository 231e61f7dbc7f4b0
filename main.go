package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dessert-admin/api"
	"dessert-admin/bot"
	"dessert-admin/config"
	"dessert-admin/db"
	"dessert-admin/events"
	"dessert-admin/logger"
	"dessert-admin/metrics"
	"dessert-admin/models"
	"dessert-admin/services"
	"dessert-admin/session"
	"dessert-admin/tui"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "dessert-admin",
	})
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "events":
		err = runEvents(ctx, cfg)
	case "", "list", "history", "logout":
		err = runAdmin(ctx, cfg, log, cmd, args)
	default:
		err = fmt.Errorf("unknown command %q (use: migrate, list [status], history, logout, events)", cmd)
	}
	if err != nil {
		log.Error("exit", "command", cmd, "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if err := db.Init(ctx, cfg.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	if err := applyMigrations(ctx, true); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func runEvents(ctx context.Context, cfg *config.Config) error {
	fmt.Printf("Escuchando %s...\n", cfg.Kafka.Topic)
	return events.Tail(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, "dessert-admin-tail", func(m events.Message) {
		fmt.Printf("%s  %-16s %-10s %-10s %s\n", m.OccurredAt.Local().Format("2006-01-02 15:04:05"), m.Type, m.OrderID, m.Status, m.Operator)
	})
}

// runAdmin wires the order engine and runs either the TUI or a one-shot command.
func runAdmin(ctx context.Context, cfg *config.Config, log *logger.Logger, cmd string, args []string) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	useDB := cfg.DB.Enabled || cfg.Session.Backend == "postgres"
	if useDB {
		if err := db.Init(ctx, cfg.DB); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		closers = append(closers, db.Close)

		// Set AUTO_MIGRATE=1 (or "true") to apply embedded migrations on start.
		if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v == "1" || strings.EqualFold(v, "true") {
			if err := applyMigrations(ctx, false); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	}

	reg := prometheus.NewRegistry()
	clientMetrics := metrics.NewClientMetrics(reg)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Router(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		})
		log.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	sessions, closeSessions, err := openSessions(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeSessions)

	catalog, err := models.LoadCatalog(cfg.Admin.CatalogFile)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	client := api.NewClient(api.Options{
		URL:        cfg.API.URL,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
		MaxRetries: cfg.API.RateLimitRetries,
		BaseDelay:  cfg.API.RateLimitBaseWait,
		Metrics:    clientMetrics,
		Logger:     log.WithComponent("api"),
	})

	store := services.NewOrderStore(services.StoreOptions{
		API:              client,
		Reconciler:       services.Reconciler{Catalog: catalog, Match: services.MatchMode(cfg.Admin.FreeTextMatch)},
		Sessions:         sessions,
		Logger:           log.WithComponent("store"),
		SoftRefreshDelay: cfg.Admin.SoftRefreshDelay,
		HistoryTTL:       cfg.Admin.HistoryTTL,
	})

	notifiers, closeNotifiers := openNotifiers(cfg, log)
	closers = append(closers, closeNotifiers)

	machine := services.NewOrderStateMachine(store, services.MachineOptions{
		Logger:         log.WithComponent("orders"),
		ConfirmSeconds: cfg.Admin.ConfirmSeconds,
		Notifiers:      notifiers,
	})
	closers = append(closers, machine.Close)

	restored, err := store.Restore(ctx)
	if err != nil {
		log.Warn("restore session", "error", err)
	}
	if !restored && cfg.Admin.PIN != "" && cmd != "logout" {
		if err := store.Login(ctx, cfg.Admin.PIN, cfg.Admin.Operator); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	switch cmd {
	case "list":
		return printList(ctx, store, args[1:])
	case "history":
		return printHistory(ctx, store)
	case "logout":
		if err := store.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Sesión cerrada.")
		return nil
	}
	return tui.Run(ctx, machine, tui.Options{Timeout: cfg.API.Timeout + 5*time.Second})
}

func openSessions(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Session.Backend {
	case "postgres":
		return session.NewPostgresStore(cfg.Admin.Operator), func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return session.NewRedisStore(rdb, cfg.Admin.Operator, 0), func() { _ = rdb.Close() }, nil
	default:
		return session.NewFileStore(cfg.Session.File), func() {}, nil
	}
}

// openNotifiers starts the optional Telegram and Kafka sinks for accepted mutations.
func openNotifiers(cfg *config.Config, log *logger.Logger) ([]services.Notifier, func()) {
	var notifiers []services.Notifier
	var closers []func()

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram, log.WithComponent("telegram"))
		if err != nil {
			log.Warn("telegram disabled", "error", err)
		} else {
			notifiers = append(notifiers, b)
		}
	}

	pub, err := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	switch {
	case err == nil:
		notifiers = append(notifiers, pub)
		closers = append(closers, func() { _ = pub.Close() })
	case !errors.Is(err, events.ErrDisabled):
		log.Warn("kafka disabled", "error", err)
	}

	return notifiers, func() {
		for _, c := range closers {
			c()
		}
	}
}

func printList(ctx context.Context, store *services.OrderStore, args []string) error {
	status := models.StatusPending
	if len(args) > 0 {
		status = models.PaymentStatus(args[0])
	}
	orders, err := store.List(ctx, status)
	if err != nil {
		return errors.New(services.StatusText(err))
	}
	printOrders(orders)
	fmt.Printf("%d pedido(s) %s\n", len(orders), status)
	return nil
}

func printHistory(ctx context.Context, store *services.OrderStore) error {
	orders, err := store.History(ctx)
	if err != nil {
		return errors.New(services.StatusText(err))
	}
	printOrders(orders)
	return nil
}

func printOrders(orders []models.Order) {
	for _, o := range orders {
		fmt.Printf("%-10s %-10s %-24s %3d u  %s\n", o.ID, o.Status, o.CustomerName, o.TotalUnits, models.FormatMoney(o.Subtotal))
	}
}
