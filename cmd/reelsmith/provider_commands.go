package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/logging"
	"reelsmith/internal/providers"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show configured providers and their routing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Providers) == 0 {
				fmt.Fprintln(out, "No providers configured")
				return nil
			}

			router := providers.NewRouter(cfg.Providers,
				providers.SettingsFromConfig(cfg.Routing),
				cfg.Routing.RequestTimeoutSeconds, logging.NewNop())
			statuses := router.Snapshot()

			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				rows = append(rows, []string{
					status.Name,
					status.Tier.String(),
					providerStateLabel(status),
					fmt.Sprintf("%.0f%%", status.SuccessRate*100),
					strings.Join(status.Models, ", "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Provider", "Tier", "State", "Success", "Models"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))

			if !check {
				return nil
			}

			fmt.Fprintln(out)
			colorize := shouldColorize(out)
			for _, provider := range cfg.Providers {
				if !provider.Enabled {
					fmt.Fprintln(out, renderStatusLine(provider.Name, statusInfo, "skipped (disabled)", colorize))
					continue
				}
				if len(provider.Models) == 0 {
					fmt.Fprintln(out, renderStatusLine(provider.Name, statusWarn, "no models configured", colorize))
					continue
				}
				client := providers.NewClient(providers.ClientConfig{
					Name:           provider.Name,
					BaseURL:        provider.BaseURL,
					APIKey:         provider.APIKey,
					TimeoutSeconds: cfg.Routing.RequestTimeoutSeconds,
				})
				if err := client.HealthCheck(cmd.Context(), provider.Models[0]); err != nil {
					fmt.Fprintln(out, renderStatusLine(provider.Name, statusError, err.Error(), colorize))
					continue
				}
				fmt.Fprintln(out, renderStatusLine(provider.Name, statusOK, "reachable", colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Send a round-trip request to each enabled provider")
	return cmd
}

func providerStateLabel(status providers.Status) string {
	switch {
	case !status.Enabled:
		return "disabled"
	case status.CircuitOpen:
		return "circuit open"
	case !status.Healthy:
		return "unhealthy"
	default:
		return "ready"
	}
}
