package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daybridge/daybridge/internal/importer"
	"github.com/daybridge/daybridge/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <file.ics...>",
	Short: "Import events from iCalendar files",
	Long: `Import .ics files into the local store. Imported events start as
local_only and flow to the native calendar on the next sync cycle.
The serve daemon also watches the configured drop directory, so copying
files there has the same effect.

Examples:
  daybridge import invite.ics
  daybridge import *.ics --priority 7
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().Int("priority", 0, "Priority for imported events (default from config)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	st := openStore(cmd, cfg)
	defer st.Close()

	priority, _ := cmd.Flags().GetInt("priority")
	if priority <= 0 {
		priority = cfg.Importer.Priority
	}

	imp, err := importer.New(st, cfg.Importer.Dir, &importer.Config{
		DefaultPriority: priority,
		Logger:          quietLogger("import"),
	})
	if err != nil {
		return err
	}

	total := 0
	for _, path := range args {
		n, err := imp.ImportFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
		fmt.Printf("%s %d event(s) from %s\n", ui.OK("imported"), n, path)
		total += n
	}
	if total > 0 {
		fmt.Println(ui.Dim("events sync to the native calendar on the next cycle"))
	}
	return nil
}
