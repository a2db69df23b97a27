package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operator tooling for the sync settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ctx.close(closeCtx)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log service activity to stderr")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newWithdrawalsCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newBalanceCommand(ctx))

	return rootCmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}

func newWithdrawalsCommand(ctx *commandContext) *cobra.Command {
	withdrawalsCmd := &cobra.Command{
		Use:     "withdrawals",
		Aliases: []string{"wd"},
		Short:   "Review withdrawal requests",
	}
	withdrawalsCmd.AddCommand(newWithdrawalsListCommand(ctx))
	withdrawalsCmd.AddCommand(newWithdrawalDecisionCommand(ctx, true))
	withdrawalsCmd.AddCommand(newWithdrawalDecisionCommand(ctx, false))
	return withdrawalsCmd
}

func newWithdrawalsListCommand(ctx *commandContext) *cobra.Command {
	var status, producer string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List withdrawal requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			filter := repository.WithdrawalFilter{Limit: limit}
			if status != "" {
				st := repository.WithdrawalStatus(strings.ToLower(status))
				filter.Status = &st
			}
			if producer != "" {
				filter.ProducerID = &producer
			}
			items, total, err := svc.withdrawals.ListWithdrawals(cmd.Context(), operator, filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatWithdrawals(items))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d shown\n", len(items), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "Filter by status (pending, completed, rejected); empty for all")
	cmd.Flags().StringVar(&producer, "producer", "", "Filter by producer id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	return cmd
}

func newWithdrawalDecisionCommand(ctx *commandContext, approve bool) *cobra.Command {
	use, short, flagName := "reject <withdrawal-id>", "Reject a pending withdrawal and return its funds", "reason"
	if approve {
		use, short, flagName = "approve <withdrawal-id>", "Approve a pending withdrawal for payout", "notes"
	}
	var note string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			var w *repository.WithdrawalRequest
			if approve {
				w, err = svc.withdrawals.Approve(cmd.Context(), operator, args[0], note)
			} else {
				w, err = svc.withdrawals.Reject(cmd.Context(), operator, args[0], note)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatWithdrawals([]*repository.WithdrawalRequest{w}))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, flagName, "", "Recorded on the withdrawal")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a scheduled sweep once",
	}
	sweepCmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Expire proposals past their expiration date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.proposals.Expire(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d proposal(s)\n", n)
			return nil
		},
	})
	sweepCmd.AddCommand(&cobra.Command{
		Use:   "mature",
		Short: "Move sale credits past their hold period to available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.ledger.MatureFunds(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Matured %d transaction(s)\n", n)
			return nil
		},
	})
	return sweepCmd
}

func newBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <producer-id>",
		Short: "Show a producer's balance and check it against the transaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.buildServices(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.ledger.Reconcile(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatReconciliation(rec))
			if !rec.Consistent() {
				return fmt.Errorf("balance for %s does not match its transaction log", args[0])
			}
			return nil
		},
	}
}

func formatWithdrawals(items []*repository.WithdrawalRequest) string {
	rows := make([][]string, 0, len(items))
	for _, w := range items {
		processed := ""
		if w.ProcessedAt != nil {
			processed = w.ProcessedAt.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			w.ID,
			w.ProducerID,
			w.Amount.StringFixed(2),
			w.PaymentMethodID,
			string(w.Status),
			w.CreatedAt.Format(time.RFC3339),
			processed,
		})
	}
	return renderTable(
		[]string{"ID", "Producer", "Amount", "Payment Method", "Status", "Requested", "Processed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
}

func formatReconciliation(rec *service.Reconciliation) string {
	b := rec.Balance
	rows := [][]string{
		{"Available", b.AvailableBalance.StringFixed(2), rec.ReplayedAvailable.StringFixed(2)},
		{"Pending", b.PendingBalance.StringFixed(2), rec.ReplayedPending.StringFixed(2)},
		{"Lifetime earnings", b.LifetimeEarnings.StringFixed(2), ""},
	}
	return renderTable(
		[]string{"Balance", "Stored", "Replayed"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	)
}
