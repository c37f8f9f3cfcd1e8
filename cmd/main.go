package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/config"
	"github.com/uberdeveloper/omspy/internal/db"
	"github.com/uberdeveloper/omspy/internal/feed"
	"github.com/uberdeveloper/omspy/internal/journal"
	"github.com/uberdeveloper/omspy/internal/notifier"
	"github.com/uberdeveloper/omspy/internal/order"
	"github.com/uberdeveloper/omspy/internal/peg"
	"github.com/uberdeveloper/omspy/internal/position"
	"github.com/uberdeveloper/omspy/internal/strategy"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Starting order manager with broker:", cfg.Broker)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	brk, err := buildBroker(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize broker: %v", err)
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize order store: %v", err)
	}
	defer closeStore()

	// Set up notification system
	var notify notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" {
		tg, err := notifier.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.ProxyURL, cfg.NotificationRetries, time.Duration(cfg.NotificationDelay))
		if err != nil {
			log.Fatalf("Failed to set up Telegram notifications: %v", err)
		}
		notify = tg
	}

	// In-process audit trail for the peg chains. Fills are additionally
	// journaled to the persistent store by the status checker.
	jnl := journal.NewMemory(journal.DefaultCapacity)

	strat, err := buildStrategy(cfg, brk, store, jnl)
	if err != nil {
		log.Fatalf("Failed to build strategy: %v", err)
	}

	// Price source for the peg loop: a live feed when one is configured,
	// otherwise the sim broker's own band.
	prices := func() map[string]float64 { return nil }
	if cfg.FeedURL != "" {
		fd := feed.New(cfg.FeedURL, cfg.Symbols...)
		fd.Start(ctx)
		defer fd.Close()
		prices = fd.Snapshot
		log.Println("Streaming prices from", cfg.FeedURL)
	} else if sim, ok := brk.(*broker.Sim); ok {
		prices = func() map[string]float64 {
			out := make(map[string]float64, len(cfg.Symbols))
			for _, symbol := range cfg.Symbols {
				out[symbol] = sim.GeneratePrice()
			}
			return out
		}
		log.Println("No feed URL configured, sampling prices from the sim band")
	}

	// Place the basket before the peg loop starts chasing it.
	for _, basket := range strat.Baskets() {
		log.Printf("Placing basket of %d orders", basket.Count())
		for key, err := range basket.ExecuteAll(ctx) {
			if err != nil {
				log.Printf("Failed to place order %s: %v", key, err)
			}
		}
	}
	if err := strat.Save(ctx); err != nil {
		log.Printf("Initial save finished with errors: %v", err)
	}

	// Start order status checker
	if reader, ok := brk.(broker.StatusReader); ok {
		go orderStatusChecker(ctx, strat, reader, store, notify, time.Duration(cfg.PegInterval))
	}

	runPegLoop(ctx, strat, prices, time.Duration(cfg.PegInterval))

	log.Println("Graceful shutdown initiated...")

	// The loop context is gone; give the final persist its own deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := strat.Save(shutdownCtx); err != nil {
		log.Printf("Final save finished with errors: %v", err)
	}
	reportPositions(shutdownCtx, store)

	events, _ := jnl.GetEvents("", time.Time{}, time.Time{})
	log.Printf("Recorded %d audit events, final MTM %.2f", len(events), strat.TotalMTM())
	log.Println("Shutdown complete")
}

// buildBroker selects the brokerage backend named in the configuration.
func buildBroker(cfg config.Config) (broker.Broker, error) {
	switch cfg.Broker {
	case "paper":
		return broker.NewPaper(), nil
	case "sim":
		return broker.NewSim(int(cfg.PriceLow), int(cfg.PriceHigh)), nil
	case "wallex":
		return broker.NewWallex(cfg.WallexAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// buildStore selects the order store: Postgres when a DSN is configured,
// SQLite when a path is, in-memory otherwise. The returned func releases
// the store's resources.
func buildStore(ctx context.Context, cfg config.Config) (order.Store, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		pg, err := db.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Bootstrap(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		log.Println("Connected to Postgres")
		return pg, func() { pg.Close() }, nil
	case cfg.SQLitePath != "":
		sq, err := db.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := sq.Bootstrap(ctx); err != nil {
			sq.Close()
			return nil, nil, err
		}
		log.Println("Using SQLite store at", cfg.SQLitePath)
		return sq, func() { sq.Close() }, nil
	default:
		log.Println("Using in-memory order store")
		return db.NewMemory(), func() {}, nil
	}
}

// buildStrategy assembles the demo strategy: one basket holding a resting
// limit buy per configured symbol, each chased toward the last traded price
// by a peg that converts to market on expiry.
func buildStrategy(cfg config.Config, brk broker.Broker, store order.Store, jnl journal.Journaler) (*strategy.OrderStrategy, error) {
	strat := strategy.New("demo", brk)
	strat.Store = store

	basket := order.NewCompound(brk)
	basket.Store = store
	for _, symbol := range cfg.Symbols {
		o, err := basket.AddOrder(order.Config{
			Symbol:           symbol,
			Side:             order.SideBuy,
			Quantity:         1,
			OrderType:        "LIMIT",
			Price:            cfg.PriceLow,
			Tag:              "demo",
			MaxModifications: cfg.MaxModifications,
		})
		if err != nil {
			return nil, err
		}
		pg, err := peg.NewExisting(peg.ExistingConfig{
			Order:    o,
			Broker:   brk,
			LockFor:  time.Duration(cfg.LockDuration),
			OnExpiry: order.ExpiryConvertToMarket,
			Journal:  jnl,
		})
		if err != nil {
			return nil, err
		}
		strat.AddRunner(strategy.PegExistingRunner(pg))
	}
	if err := strat.Add(basket); err != nil {
		return nil, err
	}
	return strat, nil
}

// reportPositions folds the persisted fills into per-symbol positions and
// logs them.
func reportPositions(ctx context.Context, store order.Store) {
	snaps, err := store.ListOrders(ctx)
	if err != nil {
		log.Printf("Failed to list orders for the position report: %v", err)
		return
	}
	rows := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		if snap.FilledQuantity == 0 {
			continue
		}
		rows = append(rows, map[string]any{
			"symbol":        snap.Symbol,
			"side":          snap.Side,
			"quantity":      snap.FilledQuantity,
			"average_price": snap.AveragePrice,
		})
	}
	for symbol, pos := range position.FromOrders(rows) {
		log.Printf("Position %s: net %v, avg buy %.2f, avg sell %.2f",
			symbol, pos.NetQuantity(), pos.AverageBuyValue(), pos.AverageSellValue())
	}
}

// runPegLoop drives the strategy until the context is canceled: every
// interval it refreshes prices, runs the peg chains and applies expiry
// flags.
func runPegLoop(ctx context.Context, strat *strategy.OrderStrategy, prices func() map[string]float64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("Starting peg loop")

	for {
		select {
		case <-ctx.Done():
			log.Println("Peg loop stopped")
			return
		case <-ticker.C:
			strat.UpdateLTP(prices())
			if err := strat.Run(ctx); err != nil {
				log.Printf("Run cycle finished with errors: %v", err)
			}
			strat.CheckFlags(ctx)
		}
	}
}

// orderStatusChecker periodically polls the broker for the status of
// pending orders and pushes the snapshots back into the strategy.
func orderStatusChecker(ctx context.Context, strat *strategy.OrderStrategy, reader broker.StatusReader, store order.Store, notify notifier.Notifier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("Starting order status checker")

	notified := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			log.Println("Order status checker stopped")
			return
		case <-ticker.C:
			data := make(map[string]map[string]any)
			for _, basket := range strat.Baskets() {
				for _, o := range basket.PendingOrders() {
					if o.OrderID == "" {
						continue
					}
					snap, err := reader.OrderStatus(ctx, o.OrderID)
					if err != nil {
						log.Printf("Error fetching order status for %s: %v", o.OrderID, err)
						continue
					}
					data[o.OrderID] = snap
				}
			}
			if len(data) == 0 {
				continue
			}

			log.Printf("Checking status of %d open orders", len(data))
			strat.UpdateOrders(ctx, data)

			for _, basket := range strat.Baskets() {
				for _, o := range basket.CompletedOrders() {
					if notified[o.ID] {
						continue
					}
					notified[o.ID] = true
					log.Printf("Order %s filled", o.OrderID)
					store.LogEvent(ctx, journal.OrderEvent("order filled", map[string]any{
						"order_id": o.OrderID,
						"symbol":   o.Symbol,
						"price":    o.AveragePrice,
					}))
					if err := notify.SendWithRetry(fmt.Sprintf("%s %s filled at %v", o.Symbol, o.Side, o.AveragePrice)); err != nil {
						log.Printf("Failed to notify fill of %s: %v", o.OrderID, err)
					}
				}
			}
		}
	}
}
