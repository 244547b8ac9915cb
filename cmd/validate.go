package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sigval/internal/model"
)

var (
	validateTaskID       string
	validateEndpoint     string
	validateFolderID     int
	validateDocAttrID    int
	validateResultAttrID int
	validateConfidence   float64
	validateAPIKey       string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run one validation request and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := model.ValidationRequest{
			TaskID:              validateTaskID,
			APIEndpoint:         validateEndpoint,
			SmartFolderID:       validateFolderID,
			DocumentAttributeID: validateDocAttrID,
			ResultAttributeID:   validateResultAttrID,
			ConfidenceLevel:     validateConfidence,
			APIKey:              validateAPIKey,
		}

		responses := newValidator().Run(cmd.Context(), req)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(responses); err != nil {
			return eris.Wrap(err, "encode result")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateTaskID, "task-id", "", "task id stamped on the result")
	validateCmd.Flags().StringVar(&validateEndpoint, "endpoint", "", "Identifi API endpoint")
	validateCmd.Flags().IntVar(&validateFolderID, "smart-folder", 0, "smart folder id to enumerate")
	validateCmd.Flags().IntVar(&validateDocAttrID, "document-attribute", 0, "attribute id for the confidence score")
	validateCmd.Flags().IntVar(&validateResultAttrID, "result-attribute", 0, "attribute id for the Y/N outcome (optional)")
	validateCmd.Flags().Float64Var(&validateConfidence, "confidence", 0, "pass threshold 0..1 (default 0.5)")
	validateCmd.Flags().StringVar(&validateAPIKey, "api-key", "", "Identifi API key")

	validateCmd.MarkFlagRequired("task-id")
	validateCmd.MarkFlagRequired("endpoint")
	validateCmd.MarkFlagRequired("smart-folder")
	validateCmd.MarkFlagRequired("document-attribute")
	validateCmd.MarkFlagRequired("api-key")

	rootCmd.AddCommand(validateCmd)
}
