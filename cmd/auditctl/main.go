package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	"github.com/noah-isme/card-audit-agent/internal/repository"
	"github.com/noah-isme/card-audit-agent/internal/service"
	"github.com/noah-isme/card-audit-agent/pkg/config"
	"github.com/noah-isme/card-audit-agent/pkg/database"
	"github.com/noah-isme/card-audit-agent/pkg/logger"
	"github.com/noah-isme/card-audit-agent/pkg/remote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
		os.Exit(1)
	}
}

// agent holds the services a command needs. close releases the store.
type agent struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *sqlx.DB
	remote  *remote.Client
	cache   *service.VerificationCache
	engine  *service.VerificationService
	auth    *service.AuthService
	enquiry *service.EnquiryService
	reports *service.ReportService
}

func (a *agent) close() {
	_ = a.db.Close()
	_ = a.log.Sync()
}

func bootstrap(ctx context.Context) (*agent, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	client := remote.New(cfg.Remote, logr)
	cards := repository.NewCardRepository(db)
	verifications := repository.NewVerificationRepository(db)
	cache := service.NewVerificationCache(client, service.DefaultStaticBatches(), cfg.Cache.BatchTTL, nil, logr)
	engine := service.NewVerificationService(cards, verifications, cache, nil, logr)

	return &agent{
		cfg:    cfg,
		log:    logr,
		db:     db,
		remote: client,
		cache:  cache,
		engine: engine,
		auth: service.NewAuthService(repository.NewOperatorRepository(db), nil, logr, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
			DefaultDeviceID:   cfg.Device.ID,
		}),
		enquiry: service.NewEnquiryService(engine, cache, client, cfg.Remote.EnquiryFallback, logr),
		reports: service.NewReportService(cards, verifications, nil, nil, logr),
	}, nil
}

// withAgent runs fn with a bootstrapped agent and releases it afterwards.
func withAgent(fn func(cmd *cobra.Command, args []string, a *agent) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args, a)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auditctl",
		Short: "Card audit agent operator CLI",
		Long: `auditctl manages the on-device card audit store: schema migration, seeding the bundled
batches, operator accounts, remote batch sync, card enquiries and reconciliation reports.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newOperatorCmd(),
		newBatchesCmd(),
		newSyncCmd(),
		newProgressCmd(),
		newEnquireCmd(),
		newReportCmd(),
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema",
		RunE: withAgent(func(cmd *cobra.Command, _ []string, a *agent) error {
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", a.db.DriverName())
			return nil
		}),
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the bundled static batches into the store",
		RunE: withAgent(func(cmd *cobra.Command, _ []string, a *agent) error {
			results, err := a.engine.LoadStaticBatches(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		}),
	}
}

func newOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(newOperatorAddCmd())
	return cmd
}

func newOperatorAddCmd() *cobra.Command {
	var req models.CreateOperatorRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an operator",
		RunE: withAgent(func(cmd *cobra.Command, _ []string, a *agent) error {
			op, err := a.auth.CreateOperator(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, models.OperatorInfo{ID: op.ID, Code: op.Code, FullName: op.FullName})
		}),
	}
	cmd.Flags().StringVar(&req.Code, "code", "", "Operator code used to log in")
	cmd.Flags().StringVar(&req.FullName, "name", "", "Operator full name")
	cmd.Flags().StringVar(&req.PIN, "pin", "", "Login PIN (4-32 characters)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func newBatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List active remote batches",
		RunE: withAgent(func(cmd *cobra.Command, _ []string, a *agent) error {
			numbers, err := a.cache.ListActiveBatches(cmd.Context())
			if err != nil {
				return err
			}
			for _, number := range numbers {
				fmt.Fprintln(cmd.OutOrStdout(), number)
			}
			return nil
		}),
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <batch-number>",
		Short: "Copy a remote batch into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: withAgent(func(cmd *cobra.Command, args []string, a *agent) error {
			result, err := a.engine.SyncBatchFromRemote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		}),
	}
}

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <batch>",
		Short: "Show verification progress for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: withAgent(func(cmd *cobra.Command, args []string, a *agent) error {
			progress, err := a.engine.BatchProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, progress)
		}),
	}
}

func newEnquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enquire <card-id>",
		Short: "Find which batch a card belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: withAgent(func(cmd *cobra.Command, args []string, a *agent) error {
			location, err := a.enquiry.Locate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, location)
		}),
	}
}

func newReportCmd() *cobra.Command {
	var format string
	var outDir string
	cmd := &cobra.Command{
		Use:   "report <batch>",
		Short: "Write a reconciliation report for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: withAgent(func(cmd *cobra.Command, args []string, a *agent) error {
			report, err := a.reports.Render(cmd.Context(), args[0], models.ReportFormat(format))
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, report.Filename)
			if err := os.WriteFile(path, report.Payload, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}
	cmd.Flags().StringVar(&format, "format", string(models.ReportFormatCSV), "Report format (csv or pdf)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the report to")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
