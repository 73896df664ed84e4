package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/settlement"
	"github.com/clicker-market/bff/internal/ton"
	"github.com/clicker-market/bff/internal/wallet"
)

const usage = `marketctl talks to the clicker market backend directly.

Usage:
  marketctl <command> [flags]

Commands:
  listings   list active listings
  stats      show market stats
  status     show the settlement state of a reservation
  cleanup    expire stale reservations (admin)
  buy        reserve a listing and pay for it with the hot wallet
`

type globalFlags struct {
	initData string
	verbose  bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "listings":
		err = runListings(ctx, cfg, args)
	case "stats":
		err = runStats(ctx, cfg, args)
	case "status":
		err = runStatus(ctx, cfg, args)
	case "cleanup":
		err = runCleanup(ctx, cfg, args)
	case "buy":
		err = runBuy(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet(name string, g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	fs.StringVar(&g.initData, "init-data", os.Getenv("MARKETCTL_INIT_DATA"), "Telegram init data used as the tma authorization")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "log requests")
	return fs
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, _ := zap.NewDevelopment()
	return log
}

func newClient(cfg *config.Config, log *zap.Logger) *market.Client {
	return market.NewClient(market.ClientConfig{
		BaseURL:    cfg.MarketAPIURL,
		Timeout:    cfg.MarketTimeout,
		RPS:        cfg.MarketRPS,
		Burst:      cfg.MarketBurst,
		AdminToken: cfg.MarketAdminToken,
	}, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runListings(ctx context.Context, cfg *config.Config, args []string) error {
	var g globalFlags
	var f models.ListingFilter
	var minTON, maxTON string
	fs := newFlagSet("listings", &g)
	fs.StringVar(&f.CharacterName, "character", "", "character name filter")
	fs.StringVar(&f.SortBy, "sort", models.SortNewest, "newest|price_asc|price_desc|level_desc")
	fs.IntVar(&f.Limit, "limit", 20, "page size")
	fs.IntVar(&f.Offset, "offset", 0, "page offset")
	fs.StringVar(&minTON, "min-ton", "", "minimum price in TON")
	fs.StringVar(&maxTON, "max-ton", "", "maximum price in TON")
	_ = fs.Parse(args)

	var err error
	if f.MinPriceNano, err = optionalTON(minTON); err != nil {
		return err
	}
	if f.MaxPriceNano, err = optionalTON(maxTON); err != nil {
		return err
	}

	listings, err := newClient(cfg, newLogger(g.verbose)).ForPlayer(g.initData).ListListings(ctx, f)
	if err != nil {
		return err
	}
	for _, l := range listings {
		fmt.Printf("%-8d %-20s lvl %-3d %12s TON  seller %s\n",
			l.ID, l.CharacterName, l.CharacterLevel, ton.FormatTON(l.PriceNano, 3), l.SellerWallet)
	}
	return nil
}

func runStats(ctx context.Context, cfg *config.Config, args []string) error {
	var g globalFlags
	_ = newFlagSet("stats", &g).Parse(args)

	stats, err := newClient(cfg, newLogger(g.verbose)).ForPlayer(g.initData).Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runStatus(ctx context.Context, cfg *config.Config, args []string) error {
	var g globalFlags
	fs := newFlagSet("status", &g)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: marketctl status <reservation-uuid>")
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid reservation id: %w", err)
	}

	st, err := newClient(cfg, newLogger(g.verbose)).ForPlayer(g.initData).TransactionStatus(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runCleanup(ctx context.Context, cfg *config.Config, args []string) error {
	var g globalFlags
	_ = newFlagSet("cleanup", &g).Parse(args)

	res, err := newClient(cfg, newLogger(g.verbose)).Cleanup(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// runBuy drives the full purchase flow headlessly: reserve, sign with the
// hot wallet, report the hash and wait for the backend to confirm.
func runBuy(ctx context.Context, cfg *config.Config, args []string) error {
	var g globalFlags
	var wait, poll time.Duration
	fs := newFlagSet("buy", &g)
	fs.DurationVar(&wait, "wait", 3*time.Minute, "how long to wait for confirmation")
	fs.DurationVar(&poll, "poll", cfg.StatusPollInterval, "status poll interval")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: marketctl buy <listing-id>")
	}
	listingID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid listing id: %w", err)
	}
	if cfg.HotWalletSeed == "" {
		return fmt.Errorf("HOT_WALLET_SEED is required for buy")
	}

	log := newLogger(g.verbose)
	api, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	hot, err := wallet.NewHotWallet(api, strings.Fields(cfg.HotWalletSeed), log)
	if err != nil {
		return err
	}
	fmt.Println("paying from", hot.Address())

	bus := events.NewLocalBus()
	_ = bus.Subscribe(ctx, events.StreamSettlement, func(e events.Event) {
		fmt.Printf("event %s %v\n", e.Type, e.Payload)
	})

	coord := settlement.NewCoordinator(uuid.New(), newClient(cfg, log).ForPlayer(g.initData), hot, bus, nil, nil, settlement.Config{
		PlatformWallet:   cfg.PlatformWalletAddress,
		CommissionBPS:    cfg.CommissionBPS,
		TxValidity:       cfg.TxValidity,
		SignatureWaitMax: cfg.SignatureWaitMax,
		Network:          ton.NetworkID(cfg.TONNetwork),
	}, log)

	p, err := coord.Buy(ctx, listingID)
	if err != nil {
		return err
	}
	fmt.Println("submitted", p.ReservationID, "hash", p.MessageHash)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("no confirmation within %s, check later with: marketctl status %s", wait, p.ReservationID)
		case <-ticker.C:
			if err := coord.Poll(waitCtx); err != nil {
				fmt.Fprintln(os.Stderr, "poll:", err)
			}
			view, err := coord.Status(waitCtx, p.ReservationID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "status:", err)
				continue
			}
			switch view.State {
			case models.SettlementConfirmed:
				fmt.Println("confirmed", view.BlockchainHash)
				return nil
			case models.SettlementExpired, models.SettlementNotFound:
				return fmt.Errorf("settlement ended as %s", view.State)
			}
		}
	}
}

func optionalTON(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := ton.ParseTON(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
