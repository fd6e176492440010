package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bujinwang/agentOps-sub012/pkg/sanitize"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain an access token",
	Long: `Login authenticates against the API and prints the access token.

Save it for later calls:
  agentops-admin login --email admin@example.com --password ... \
    | tail -1 > ~/.agentops/token
  agentops-admin config set-context prod --api-url https://api.example.com --token-file ~/.agentops/token`,
	RunE: runLogin,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [INPUT]",
	Short: "Classify a payload against the threat rule table",
	Long: `Classify runs the built-in threat rules over INPUT (or stdin when
omitted) without contacting the API. Exit status is 1 when any rule
matches.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	classifyCmd.Flags().String("rules", "", "Extra threat rules file (YAML)")
	classifyCmd.Flags().Int("max-length", 0, "Maximum input length before it counts as an issue")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if flagAPIURL == "" {
		return fmt.Errorf("API URL not configured. Use --api-url or AGENTOPS_API_URL")
	}
	email, _ := cmd.Flags().GetString("email")
	pass, _ := cmd.Flags().GetString("password")

	client := NewClient(flagAPIURL, "", flagVerbose)
	data, err := client.Post("/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": pass,
	})
	if err != nil {
		return err
	}

	var resp TokenResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if flagOutput == outputJSON {
		printJSON(resp)
		return nil
	}

	fmt.Fprintf(os.Stderr, "Logged in as %s (%s), token expires %s\n",
		resp.User.Email, resp.User.Role, shortTime(resp.ExpiresAt))
	fmt.Println(resp.AccessToken)
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	var input string
	if len(args) == 1 {
		input = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = string(data)
	}

	opts := sanitize.Options{}
	if v, _ := cmd.Flags().GetInt("max-length"); v > 0 {
		opts.MaxLength = v
	}
	if path, _ := cmd.Flags().GetString("rules"); path != "" {
		rules, err := sanitize.LoadRulesFile(path)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		opts.ExtraRules = rules
	}

	report := sanitize.New(opts).Classify(input)

	if flagOutput == outputJSON {
		printJSON(report)
	} else if flagOutput == outputYAML {
		printYAML(report)
	} else if report.Valid {
		fmt.Println("clean")
	} else {
		for _, issue := range report.Issues {
			fmt.Println(issue)
		}
	}

	if !report.Valid {
		os.Exit(1)
	}
	return nil
}
