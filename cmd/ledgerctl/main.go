// Command ledgerctl runs ledger maintenance tasks from cron or by hand.
//
//	ledgerctl cashback:process [--days=7]
//	ledgerctl refunds:retry
//	ledgerctl commissions:settle
//	ledgerctl wallet:reconcile --user=42
//
// Exit status is 0 on success, 1 on failure, 2 on usage errors and 3 when
// cashback:process found another sweep holding the lock.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/app"
	"marketplace-ledger/internal/cashback"
	"marketplace-ledger/internal/util"

	flag "github.com/spf13/pflag"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app.App, args []string) (ok bool, err error)
}

var commands = map[string]command{
	"cashback:process":   {"award cashback for orders past their return period", runCashback},
	"refunds:retry":      {"retry refunds of returns received by the seller", runRefundRetry},
	"commissions:settle": {"credit seller commission for items past their return window", runSettle},
	"wallet:reconcile":   {"compare a wallet balance with its ledger", runReconcile},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Log.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	ok, err = cmd.run(ctx, a, os.Args[2:])
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
	}
	os.Exit(exitCode(ok, err))
}

// Exit codes. Usage errors exit 2.
const (
	exitOK     = 0
	exitFailed = 1
	exitLocked = 3
)

// exitCode maps a command outcome to the process exit status.
func exitCode(ok bool, err error) int {
	switch {
	case errors.Is(err, cashback.ErrSweepInProgress):
		return exitLocked
	case err != nil, !ok:
		return exitFailed
	}
	return exitOK
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <command> [flags]")
	for name, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-20s %s\n", name, cmd.summary)
	}
}

func runCashback(ctx context.Context, a *app.App, args []string) (bool, error) {
	fs := flag.NewFlagSet("cashback:process", flag.ContinueOnError)
	days := fs.Int("days", a.Config.Cashback.ReturnPeriodDays, "return period in days before cashback is paid")
	if err := fs.Parse(args); err != nil {
		return false, err
	}

	report, err := a.Cashback.Run(ctx, cashback.Options{ReturnPeriodDays: *days})
	if err != nil {
		return false, err
	}

	fmt.Printf("Processing cashback for orders delivered %d or more days ago.\n", *days)
	fmt.Printf("Eligible: %d, processed: %d, skipped: %d, failed: %d\n",
		report.Eligible, report.Processed, report.Skipped, report.Failed)
	for _, f := range report.Failures {
		fmt.Printf("  order #%d: %s\n", f.OrderID, f.Error)
	}
	return report.Failed == 0, nil
}

func runRefundRetry(ctx context.Context, a *app.App, args []string) (bool, error) {
	report, err := a.Returns.RetryPendingRefunds(ctx)
	if err != nil {
		return false, err
	}
	fmt.Printf("Pending: %d, refunded: %d, failed: %d\n", report.Pending, report.Refunded, report.Failed)
	for _, f := range report.Failures {
		fmt.Printf("  return #%d: %s\n", f.ReturnID, f.Error)
	}
	return report.Failed == 0, nil
}

func runSettle(ctx context.Context, a *app.App, args []string) (bool, error) {
	report, err := a.Items.SettleCommissions(ctx, time.Now())
	if err != nil {
		return false, err
	}
	fmt.Printf("Eligible: %d, settled: %d, skipped: %d, failed: %d\n",
		report.Eligible, report.Settled, report.Skipped, report.Failed)
	for _, f := range report.Failures {
		fmt.Printf("  item #%d: %s\n", f.OrderItemID, f.Error)
	}
	return report.Failed == 0, nil
}

func runReconcile(ctx context.Context, a *app.App, args []string) (bool, error) {
	fs := flag.NewFlagSet("wallet:reconcile", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id of the wallet to check")
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if *user <= 0 {
		return false, errors.New("--user is required")
	}

	rec, err := a.Wallet.Reconcile(ctx, *user)
	if err != nil {
		return false, err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return false, err
	}
	fmt.Println(string(out))
	return rec.Consistent, nil
}
