package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexviseme/internal/viseme"
)

type slotInfo struct {
	Slot       int     `json:"slot"`
	Name       string  `json:"name"`
	Trained    bool    `json:"trained"`
	TrainCount uint32  `json:"trainCount"`
	Norm       float32 `json:"norm"`
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the train count and norm of every slot in the model file",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := viseme.LoadModels(a.cfg.Model.Path)
			if err != nil {
				return err
			}

			slots := make([]slotInfo, 0, viseme.SlotCount)
			for s := range models {
				m := &models[s]
				slots = append(slots, slotInfo{
					Slot:       s,
					Name:       viseme.SlotName(s),
					Trained:    m.Trained(),
					TrainCount: m.TrainCount,
					Norm:       m.Norm(),
				})
			}

			if a.outputFormat == outputJSON {
				return writeJSON(cmd.OutOrStdout(), slots)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", a.cfg.Model.Path)
			tw := newTable(cmd.OutOrStdout(), "SLOT", "NAME", "COUNT", "NORM")
			for _, s := range slots {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%.4f\n", s.Slot, s.Name, s.TrainCount, s.Norm)
			}
			return tw.Flush()
		},
	}
}
