package cmd

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "List resources",
}

var getEventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"event", "ev"},
	Short:   "List recorded security events",
	RunE:    runGetEvents,
}

func init() {
	getEventsCmd.Flags().String("kind", "", "Filter by event kind (e.g. RATE_LIMIT_EXCEEDED, CSRF_FAILURE)")
	getEventsCmd.Flags().Int("page", 1, "Page number")
	getEventsCmd.Flags().Int("per-page", 20, "Items per page")

	getCmd.AddCommand(getEventsCmd)
}

func runGetEvents(cmd *cobra.Command, args []string) error {
	client := mustClient()

	params := url.Values{}
	if v, _ := cmd.Flags().GetString("kind"); v != "" {
		params.Set("kind", v)
	}
	if v, _ := cmd.Flags().GetInt("page"); v > 0 {
		params.Set("page", strconv.Itoa(v))
	}
	if v, _ := cmd.Flags().GetInt("per-page"); v > 0 {
		params.Set("per_page", strconv.Itoa(v))
	}

	path := "/api/v1/admin/security/events"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}

	data, err := client.Get(path)
	if err != nil {
		return err
	}

	var resp SecurityEventListResponse
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

	if flagOutput == outputWide {
		t := newTable("TIMESTAMP", "KIND", "IP", "METHOD", "PATH", "DETAIL")
		for _, e := range resp.Data {
			detail := ""
			if len(e.Detail) > 0 {
				raw, _ := json.Marshal(e.Detail)
				detail = truncate(string(raw), 60)
			}
			t.AddRow(shortTime(e.Timestamp), e.Kind, e.IP, e.Method, truncate(e.Path, 40), detail)
		}
		t.Flush()
	} else {
		t := newTable("TIMESTAMP", "KIND", "IP", "PATH")
		for _, e := range resp.Data {
			t.AddRow(shortTime(e.Timestamp), e.Kind, e.IP, truncate(e.Path, 40))
		}
		t.Flush()
	}

	printPagination(resp.Total, resp.Page, resp.PerPage, resp.TotalPages)
	return nil
}
