package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexviseme/internal/viseme"
)

func newClearCommand(a *app) *cobra.Command {
	var slotFlag string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset one slot of the model file to untrained",
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(slotFlag)
			if err != nil {
				return err
			}

			engine, err := a.newEngine(false)
			if err != nil {
				return err
			}
			if err := engine.Load(""); err != nil {
				return err
			}
			if err := engine.ClearSlot(slot); err != nil {
				return err
			}
			if err := engine.Save(""); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cleared slot %d (%s)\n", slot, viseme.SlotName(slot))
			return nil
		},
	}

	cmd.Flags().StringVarP(&slotFlag, "slot", "s", "", "slot number or name")
	cmd.MarkFlagRequired("slot")
	return cmd
}
