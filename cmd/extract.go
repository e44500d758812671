package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/issuekey"
)

var extractJSON bool

var extractCmd = &cobra.Command{
	Use:   "extract [text...]",
	Short: "Print the issue keys found in text (or stdin)",
	Example: `  tracelink extract "feature/SECO-12-login"
  git log -1 --format=%B | tracelink extract`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return extractRun(args)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "Print keys as a JSON array")
	rootCmd.AddCommand(extractCmd)
}

func extractRun(args []string) error {
	c, err := getConfig()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := readAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	keys := issuekey.Strings(c.Grammar().Extract(text))
	if extractJSON {
		return json.NewEncoder(ui.Out).Encode(keys)
	}
	for _, k := range keys {
		fmt.Fprintln(ui.Out, k)
	}
	return nil
}

// readAll is replaceable in tests.
var readAll = io.ReadAll
