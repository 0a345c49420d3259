package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"netaccess/internal/probe"
	pkgerrors "netaccess/pkg/errors"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check portal reachability, the local address and the keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appInstance.Config

		names, _ := cmd.Flags().GetStringSlice("strategy")
		var strategies []probe.Strategy
		for _, name := range names {
			s, err := probe.NewStrategy(name)
			if err != nil {
				return err
			}
			strategies = append(strategies, s)
		}

		fmt.Printf("Probing %s\n\n", cfg.BaseURL)
		prober := probe.New(probe.Config{Timeout: cfg.RequestTimeout})
		report, err := prober.Run(ctx, cfg.BaseURL, strategies, nil)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSTATUS\tLATENCY\tDETAIL")
		fmt.Fprintln(w, "-----\t------\t-------\t------")
		for _, r := range report.Results {
			if r.OK() {
				fmt.Fprintf(w, "%s\tOK\t%s\t%s\n", r.Strategy, r.Latency.Round(time.Millisecond), r.Detail)
			} else {
				fmt.Fprintf(w, "%s\tFAIL\t-\t%v\n", r.Strategy, r.Err)
			}
		}

		keyringStatus, keyringDetail := "OK", "no username configured"
		if name := cfg.Username; name != "" {
			_, err := appInstance.Credentials.Get(name)
			switch {
			case err == nil:
				keyringDetail = "password stored for " + name
			case errors.Is(err, pkgerrors.ErrUserNotFound):
				keyringDetail = "no password stored for " + name
			default:
				keyringStatus, keyringDetail = "FAIL", err.Error()
			}
		}
		fmt.Fprintf(w, "keyring\t%s\t-\t%s\n", keyringStatus, keyringDetail)

		dbStatus, dbDetail := "OK", "readable"
		if _, err := appInstance.Storage.GetAllSettings(ctx); err != nil {
			dbStatus, dbDetail = "FAIL", err.Error()
		}
		fmt.Fprintf(w, "history db\t%s\t-\t%s\n", dbStatus, dbDetail)
		w.Flush()

		fmt.Printf("\n%d of %d network checks passed in %s\n",
			report.Succeeded, len(report.Results), report.Duration.Round(time.Millisecond))
		if report.Failed > 0 {
			return fmt.Errorf("%d network checks failed", report.Failed)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringSlice("strategy", []string{"tcp", "http", "route"}, "checks to run (tcp, http, route)")
	doctorCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"tcp", "http", "route"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(doctorCmd)
}
