package cmd

import (
	"secwaf/secrule/engine"

	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [rule files]",
	Short: "Load rule files and report the rule count or the first diagnostic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			e, err := engine.LoadFile(engine.Options{Logger: zerolog.Nop()}, path)
			if err != nil {
				return fmt.Errorf("%v", err)
			}

			fmt.Printf("%s: %d rules loaded\n", path, e.RuleCount())
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
