package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest --keep datasets and their retained files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("keep") {
			return fmt.Errorf("--keep is required")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		deleted, err := a.Service.Prune(commandContext(cmd), pruneKeep)
		w := cmd.OutOrStdout()
		for _, rec := range deleted {
			fmt.Fprintf(w, "- removed #%d %s\n", rec.ID, rec.Name)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Pruned %d datasets\n", len(deleted))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "number of newest datasets to keep")
}
