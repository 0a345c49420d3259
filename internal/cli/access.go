package cli

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"netaccess/internal/portal"
)

var (
	approveTier  = portal.TierDay
	approveForce bool
	revokeIP     string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the approval status of this machine and other registered addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		user, err := resolveUser(ctx, cmd)
		if err != nil {
			return err
		}

		status, err := appInstance.Recorder().Status(ctx, user)
		if err != nil {
			return fmt.Errorf("failed to query status: %w", err)
		}

		printStatus(status)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve this machine's address for an hour, a day or a month",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tier := approveTier
		if !cmd.Flags().Changed("duration") {
			t, err := appInstance.Config.Tier()
			if err != nil {
				return err
			}
			tier = t
		}

		user, err := resolveUser(ctx, cmd)
		if err != nil {
			return err
		}

		ip, err := appInstance.Recorder().Approve(ctx, user, tier, approveForce)
		if err != nil {
			return fmt.Errorf("failed to approve: %w", err)
		}

		fmt.Printf("Approved %s for %s for 1 %s successfully\n", ip, user, tier)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke approval of an address (this machine's by default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		user, err := resolveUser(ctx, cmd)
		if err != nil {
			return err
		}

		ip, err := appInstance.Recorder().Revoke(ctx, user, revokeIP)
		if err != nil {
			return fmt.Errorf("failed to revoke: %w", err)
		}

		fmt.Printf("Revoked %s for %s successfully\n", ip, user)
		return nil
	},
}

func resolveUser(ctx context.Context, cmd *cobra.Command) (portal.User, error) {
	name, _ := cmd.Flags().GetString("user")
	user, err := appInstance.User(ctx, name)
	if err != nil {
		return portal.User{}, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	return user, nil
}

func printStatus(status *portal.Status) {
	sys := status.System
	if sys.Connection.IsActive() {
		fmt.Printf("Your IP address is %s and active for %s\n",
			sys.IP, portal.FormatDuration(sys.Connection.TimeLeft))
	} else {
		fmt.Printf("Your IP address is %s and inactive\n", sys.IP)
	}

	fmt.Printf("Number of other registered connections: %d\n", len(status.Connections))
	if len(status.Connections) == 0 {
		return
	}

	ips := make([]netip.Addr, 0, len(status.Connections))
	for ip := range status.Connections {
		ips = append(ips, ip)
	}
	slices.SortFunc(ips, netip.Addr.Compare)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "S.No.\tIP\tTime left")
	for i, ip := range ips {
		conn := status.Connections[ip]
		left := "Inactive or expired"
		if conn.IsActive() {
			left = portal.FormatDuration(conn.TimeLeft)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, ip, left)
	}
	w.Flush()
}

func init() {
	approveCmd.Flags().VarP(&approveTier, "duration", "d", "approval length (hour, day, month); defaults to approve_duration from the config")
	approveCmd.Flags().BoolVarP(&approveForce, "force", "f", false, "approve even if this address is already active")
	approveCmd.RegisterFlagCompletionFunc("duration", completeDurationTiers)

	revokeCmd.Flags().StringVarP(&revokeIP, "ip", "i", "", "address to revoke (default: this machine)")
	revokeCmd.RegisterFlagCompletionFunc("ip", completeRecentIPs)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(revokeCmd)
}
