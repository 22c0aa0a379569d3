package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/api"
	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/config"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
)

func runMigrateCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	defer st.Close()
	v, err := st.SchemaVersion(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "schema version %d\n", v)
	return 0
}

var healthClient = &http.Client{Timeout: 5 * time.Second}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := healthClient.Get("http://localhost" + cfg.Addr() + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		subject string
		tenant  string
		roles   string
		ttl     time.Duration
	)
	cmd.StringVar(&subject, "sub", "", "Token subject (REQUIRED)")
	cmd.StringVar(&tenant, "tenant", "", "Tenant binding (REQUIRED)")
	cmd.StringVar(&roles, "roles", "operator", "Comma-separated roles or capabilities")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" || tenant == "" {
		fmt.Fprintln(stderr, "Error: --sub and --tenant are required")
		return 2
	}

	cfg := config.Load()
	if len(cfg.JWTSecret) < 16 {
		fmt.Fprintln(stderr, "Error: JWT_HMAC_SECRET must be at least 16 bytes")
		return 1
	}
	var list []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}
	tok, err := api.NewAuthenticator([]byte(cfg.JWTSecret)).Issue(subject, tenant, list, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	return 0
}

// ledgerAdmin is what the billing subcommands need beyond billing.Control.
type ledgerAdmin interface {
	OpenAccount(ctx context.Context, acct billing.Account) (billing.Account, error)
	MarkInvoicePaid(ctx context.Context, id string) error
}

// openAdminLedger is a variable so tests can substitute a ledger.
var openAdminLedger = func(ctx context.Context) (ledgerAdmin, func(), error) {
	cfg := config.Load()
	if cfg.LiteMode {
		return nil, nil, errors.New("lite mode keeps billing in memory; nothing to administer")
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	l := billing.NewPostgresLedger(st.DB())
	if err := l.Init(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return l, func() { _ = st.Close() }, nil
}

func runBillingCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: reportdesk billing <open-account|pay-invoice> [flags]")
		return 2
	}
	ctx := context.Background()

	switch args[0] {
	case "open-account":
		cmd := flag.NewFlagSet("billing open-account", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		var (
			tenant, mode, currency string
			balance, unitPrice     int64
		)
		cmd.StringVar(&tenant, "tenant", "", "Tenant id (REQUIRED)")
		cmd.StringVar(&mode, "mode", string(contracts.BillingModeCredit), "CREDIT or POSTPAID")
		cmd.Int64Var(&balance, "balance", 0, "Opening credit balance in minor units")
		cmd.Int64Var(&unitPrice, "unit-price", 0, "Price per report in minor units")
		cmd.StringVar(&currency, "currency", "INR", "ISO currency code")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		m := contracts.BillingMode(strings.ToUpper(mode))
		if tenant == "" || (m != contracts.BillingModeCredit && m != contracts.BillingModePostpaid) {
			fmt.Fprintln(stderr, "Error: --tenant is required and --mode must be CREDIT or POSTPAID")
			return 2
		}
		l, done, err := openAdminLedger(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "billing: %v\n", err)
			return 1
		}
		defer done()
		acct, err := l.OpenAccount(ctx, billing.Account{
			TenantID:  tenant,
			Mode:      m,
			Balance:   billing.NewMoney(balance, currency),
			UnitPrice: billing.NewMoney(unitPrice, currency),
		})
		if err != nil {
			fmt.Fprintf(stderr, "billing: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "account %s opened for tenant %s (%s)\n", acct.ID, tenant, m)
		return 0

	case "pay-invoice":
		cmd := flag.NewFlagSet("billing pay-invoice", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		id := cmd.String("id", "", "Service invoice id (REQUIRED)")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		if *id == "" {
			fmt.Fprintln(stderr, "Error: --id is required")
			return 2
		}
		l, done, err := openAdminLedger(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "billing: %v\n", err)
			return 1
		}
		defer done()
		if err := l.MarkInvoicePaid(ctx, *id); err != nil {
			fmt.Fprintf(stderr, "billing: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "invoice %s marked paid\n", *id)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown billing subcommand: %s\n", args[0])
		return 2
	}
}
