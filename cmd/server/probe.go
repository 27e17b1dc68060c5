package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Mieluoxxx/NoFail-API/internal/provider"
	"github.com/spf13/cobra"
)

func newProbeCommand(configPath *string) *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Test every catalog provider once and print a summary",
		Long: "Sends the probe prompt to each provider in catalog order, one at a time.\n" +
			"Exits with status 1 when no provider answers.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			results := a.checker.ProbeAll(cmd.Context())
			if persist {
				for _, r := range results {
					if err := a.providers.UpdateHealthStatus(r.Provider, r.Healthy, r.CheckedAt); err != nil {
						return err
					}
				}
			}

			working := printProbeResults(cmd.OutOrStdout(), results)
			if working == 0 {
				return exitError{code: 1, err: errors.New("no provider is working")}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "store the results as provider health status")
	return cmd
}

// printProbeResults 输出探测结果表格，返回可用供应商数量
func printProbeResults(out io.Writer, results []provider.HealthCheckResult) int {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tSTATUS\tLATENCY\tERROR")

	working := 0
	for _, r := range results {
		status := "failed"
		if r.Healthy {
			status = "ok"
			working++
		}
		latency := (time.Duration(r.ResponseTimeMs) * time.Millisecond).String()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Provider, r.Model, status, latency, r.Error)
	}
	_ = tw.Flush()

	fmt.Fprintf(out, "\n%d/%d providers working\n", working, len(results))
	return working
}
