package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRoutineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routine",
		Short: "Reads or replaces a domain's extraction routine",
	}
	cmd.AddCommand(newRoutineGetCmd(), newRoutineSetCmd())
	return cmd
}

func newRoutineGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get DOMAIN",
		Short: "Prints the routine for a domain or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			source, err := appInstance.Monitor().Routine(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("routine %s: %w", args[0], err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), source)
			return err
		},
	}
}

func newRoutineSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set DOMAIN",
		Short: "Replaces the routine for a domain or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var source []byte
			if file == "-" {
				source, err = io.ReadAll(cmd.InOrStdin())
			} else {
				source, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read routine: %w", err)
			}
			if err := appInstance.Monitor().EditRoutine(cmd.Context(), args[0], string(source)); err != nil {
				return fmt.Errorf("routine %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved routine for %s\n", args[0])
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "routine source file, - for stdin")
	return cmd
}
