package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show details of a resource",
}

var describeClientCmd = &cobra.Command{
	Use:     "client IP",
	Aliases: []string{"clients", "ip"},
	Short:   "Show the pipeline's view of a client IP",
	Args:    cobra.ExactArgs(1),
	RunE:    runDescribeClient,
}

func init() {
	describeCmd.AddCommand(describeClientCmd)
}

func runDescribeClient(cmd *cobra.Command, args []string) error {
	client := mustClient()

	data, err := client.Get("/api/v1/admin/security/clients/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}

	var resp ClientStatusResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if flagOutput == outputJSON {
		printJSON(resp)
		return nil
	}
	if flagOutput == outputYAML {
		printYAML(resp)
		return nil
	}

	fmt.Fprintf(os.Stdout, "Client:          %s\n", resp.IP)
	fmt.Fprintf(os.Stdout, "Suspicion score: %d\n", resp.SuspicionScore)
	if resp.Locked {
		fmt.Fprintf(os.Stdout, "Locked:          yes\n")
		if resp.LockedUntil != nil {
			fmt.Fprintf(os.Stdout, "Locked until:    %s\n", shortTime(*resp.LockedUntil))
		}
	} else {
		fmt.Fprintf(os.Stdout, "Locked:          no\n")
	}
	return nil
}
