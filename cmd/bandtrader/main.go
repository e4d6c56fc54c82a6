package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bandtrader/internal/bootstrap"
	"bandtrader/internal/store"
	"bandtrader/internal/trading/backtest"
	"bandtrader/pkg/cli"
	"bandtrader/pkg/logging"

	ucli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &ucli.Command{
		Name:  "bandtrader",
		Usage: "Percentage-band grid trading for one or more brokerage accounts",
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "configs/bandtrader.yaml",
				Sources: ucli.EnvVars("BANDTRADER_CONFIG"),
			},
		},
		Action: runAction,
		Commands: []*ucli.Command{
			{
				Name:   "run",
				Usage:  "Trade today's session for every configured tenant",
				Action: runAction,
			},
			{
				Name:  "set-token",
				Usage: "Store the broker access token of an account",
				Flags: []ucli.Flag{
					accountFlag(),
					&ucli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "Access token issued by the broker login flow", Required: true},
				},
				Action: setTokenAction,
			},
			{
				Name:   "summaries",
				Usage:  "Print the recorded session summaries of an account",
				Flags:  []ucli.Flag{accountFlag()},
				Action: summariesAction,
			},
			{
				Name:  "replay",
				Usage: "Replay a CSV price tape through one tenant's strategy",
				Flags: []ucli.Flag{
					accountFlag(),
					&ucli.StringFlag{Name: "tape", Usage: "CSV with one column per symbol and an optional INDEX column", Required: true},
					&ucli.TimestampFlag{
						Name:   "date",
						Usage:  "Session date in `YYYY-MM-DD` format. Defaults to today.",
						Config: ucli.TimestampConfig{Layouts: []string{"2006-01-02"}},
					},
				},
				Action: replayAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger, _ := logging.NewZapLogger("INFO")
		logger.Fatal("bandtrader failed", "error", err)
	}
}

func accountFlag() ucli.Flag {
	return &ucli.StringFlag{
		Name:     "account",
		Aliases:  []string{"a"},
		Usage:    "Account id",
		Required: true,
	}
}

func accountID(cmd *ucli.Command) (string, error) {
	id := strings.ToUpper(cmd.String("account"))
	return id, cli.ValidateAccountID(id)
}

func runAction(ctx context.Context, cmd *ucli.Command) error {
	app, err := bootstrap.NewApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			app.Logger.Error("Shutdown incomplete", "error", cerr)
		}
	}()
	return app.Run(ctx)
}

func openStore(configFile string) (*store.SQLiteStore, error) {
	cfg, err := bootstrap.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.App.DatabasePath)
}

func setTokenAction(ctx context.Context, cmd *ucli.Command) error {
	account, err := accountID(cmd)
	if err != nil {
		return err
	}
	token := cmd.String("token")
	if err := cli.ValidateAccessToken(token); err != nil {
		return err
	}

	st, err := openStore(cmd.String("config"))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveAccessToken(ctx, account, token); err != nil {
		return err
	}
	fmt.Printf("access token stored for %s\n", account)
	return nil
}

func summariesAction(ctx context.Context, cmd *ucli.Command) error {
	account, err := accountID(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.String("config"))
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ListSessionSummaries(ctx, account)
	if err != nil {
		return err
	}
	fmt.Printf("%-10s %6s %6s %8s %12s\n", "DATE", "BUYS", "SELLS", "RATCHETS", "APPROX_PNL")
	for _, s := range rows {
		fmt.Printf("%-10s %6d %6d %8d %12s\n", s.Date, s.BuyTrades, s.SellTrades, s.BaseRatchets, s.ApproxProfit.StringFixed(2))
	}
	return nil
}

func replayAction(ctx context.Context, cmd *ucli.Command) error {
	account, err := accountID(cmd)
	if err != nil {
		return err
	}
	tapeFile := cmd.String("tape")
	if err := cli.ValidateInput(tapeFile); err != nil {
		return err
	}

	cfg, err := bootstrap.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	logger, err := bootstrap.InitLogger(cfg)
	if err != nil {
		return err
	}
	fcfg, err := bootstrap.FactoryConfig(cfg)
	if err != nil {
		return err
	}

	idx := -1
	for i, t := range cfg.Tenants {
		if t.AccountID == account {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("account %s is not configured", account)
	}
	if err := cfg.ValidateTenant(idx); err != nil {
		return err
	}
	spec := cfg.TenantSpec(idx)

	day := time.Now().In(fcfg.Session.Location)
	if cmd.IsSet("date") {
		d := cmd.Timestamp("date")
		day = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, fcfg.Session.Location)
	}

	f, err := os.Open(tapeFile)
	if err != nil {
		return err
	}
	defer f.Close()
	tape, err := backtest.LoadTapeCSV(f)
	if err != nil {
		return err
	}

	res, err := backtest.NewBacktestRunner(fcfg, logger).Run(ctx, spec, tape, day)
	if err != nil {
		return err
	}

	fmt.Printf("cycles=%d orders=%d", res.Cycles, res.Orders)
	if res.Summary != nil {
		fmt.Printf(" buys=%d sells=%d ratchets=%d approx_pnl=%s",
			res.Summary.BuyTrades, res.Summary.SellTrades, res.Summary.BaseRatchets, res.Summary.ApproxProfit.StringFixed(2))
	}
	fmt.Println()
	for _, e := range spec.Basket {
		st := res.Positions[e.Symbol]
		fmt.Printf("%-12s lots=%d base=%s\n", e.Symbol, st.Lots, st.BasePrice.String())
	}
	return nil
}
