package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fedlearn-hq/arbiter/pkg/policy"
)

var policyFlags struct {
	serverURL  string
	policyType string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect policies on a running service",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	Long: `List the policies of a running service.

Examples:
  arbiter policy list
  arbiter policy list --type network_security
  arbiter policy list --server http://policy.internal:8080`,
	RunE: runPolicyList,
}

var policyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one policy in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyShow,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)

	policyCmd.PersistentFlags().StringVar(&policyFlags.serverURL, "server", "http://localhost:8080", "base URL of the policy service")
	policyListCmd.Flags().StringVar(&policyFlags.policyType, "type", "", "filter by policy type")
}

func apiGet(path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(policyFlags.serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("service returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/policies"
	if policyFlags.policyType != "" {
		path += "?type=" + url.QueryEscape(policyFlags.policyType)
	}

	var body struct {
		Version  uint64               `json:"version"`
		Policies []*policy.Definition `json:"policies"`
	}
	if err := apiGet(path, &body); err != nil {
		return err
	}

	fmt.Printf("Policy version: %d\n\n", body.Version)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRIORITY\tENABLED\tNAME")
	for _, def := range body.Policies {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", def.ID, def.Type, def.Priority, def.Enabled, def.Name)
	}
	return w.Flush()
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	var def policy.Definition
	if err := apiGet("/api/v1/policies/"+url.PathEscape(args[0]), &def); err != nil {
		return err
	}

	out, err := json.MarshalIndent(&def, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
