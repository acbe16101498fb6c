package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/payment-flow/internal/config"
	"github.com/yourorg/payment-flow/internal/reporting"
)

func reportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report [payment-method-id]",
		Short: "Print the retrospective of a payment method's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			pm, err := a.saga.PaymentMethod(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load payment method: %w", err)
			}
			blocks, err := a.saga.BlockEvents(ctx, pm.ID)
			if err != nil {
				return fmt.Errorf("failed to load block events: %w", err)
			}
			out, err := json.MarshalIndent(reporting.NewRetrospectiveReporter().GenerateRetrospective(pm, blocks), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
