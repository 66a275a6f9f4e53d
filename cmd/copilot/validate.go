package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencopilot/copilot/internal/swagger"
)

type validateOutput struct {
	Title        string             `json:"title"`
	Version      string             `json:"openapi"`
	ServerURL    string             `json:"server_url,omitempty"`
	AllEndpoints []swagger.Endpoint `json:"all_endpoints"`
	Validations  swagger.Report     `json:"validations"`
}

func newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <swagger-file>",
		Short: "Report endpoints of a swagger file a copilot cannot use well",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := swagger.Parse(data)
			if err != nil {
				return err
			}
			eps := doc.Endpoints()
			if eps == nil {
				eps = []swagger.Endpoint{}
			}
			out := validateOutput{
				Title:        doc.Title(),
				Version:      doc.Version(),
				ServerURL:    doc.ServerURL(),
				AllEndpoints: eps,
				Validations:  doc.Validations(),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if strict && !out.Validations.OK() {
				return fmt.Errorf("%s: validation findings reported", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any finding is reported")
	return cmd
}
