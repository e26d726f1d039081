package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexviseme/internal/audio"
	"github.com/normanking/cortexviseme/internal/viseme"
)

type trainResult struct {
	Slot       int     `json:"slot"`
	Name       string  `json:"name"`
	Blocks     uint64  `json:"blocks"`
	TrainCount uint32  `json:"trainCount"`
	Norm       float32 `json:"norm"`
	Model      string  `json:"model"`
}

func newTrainCommand(a *app) *cobra.Command {
	var (
		slotFlag string
		wavPath  string
		fresh    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a slot from a WAV recording",
		Long: `Analyze every 512-sample block of a WAV recording and fold it into the
running-mean model of one slot, then save the model file.

The recording is downmixed to mono and resampled to the configured rate.
Training adds to the slot's existing model. With --fresh the slot is
cleared first; other slots keep their training.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(slotFlag)
			if err != nil {
				return err
			}
			if slot == viseme.SlotNone {
				return fmt.Errorf("slot %d (%s) cannot be trained", slot, viseme.SlotName(slot))
			}

			clip, err := audio.ReadWAVFile(wavPath, a.cfg.Audio.SampleRate)
			if err != nil {
				return err
			}

			engine, err := a.newEngine(true)
			if err != nil {
				return err
			}
			if fresh {
				if err := engine.ClearSlot(slot); err != nil {
					return err
				}
			}
			if err := engine.SetTrainingSlot(slot); err != nil {
				return err
			}
			engine.Feed(clip.Samples)
			if err := engine.SetTrainingSlot(viseme.NoSlot); err != nil {
				return err
			}

			if err := engine.Save(""); err != nil {
				return err
			}

			model, err := engine.Model(slot)
			if err != nil {
				return err
			}
			res := trainResult{
				Slot:       slot,
				Name:       viseme.SlotName(slot),
				Blocks:     engine.ProcessedBlocks(),
				TrainCount: model.TrainCount,
				Norm:       model.Norm(),
				Model:      engine.ModelPath(),
			}

			a.log.Info("train", "Slot trained", map[string]interface{}{
				"slot":   slot,
				"blocks": res.Blocks,
				"wav":    wavPath,
			})

			if a.outputFormat == outputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trained slot %d (%s) with %d blocks: count=%d norm=%.4f -> %s\n",
				res.Slot, res.Name, res.Blocks, res.TrainCount, res.Norm, res.Model)
			return nil
		},
	}

	cmd.Flags().StringVarP(&slotFlag, "slot", "s", "", "slot number or name (silence, ch, ou, aa, 5..9)")
	cmd.Flags().StringVarP(&wavPath, "wav", "w", "", "WAV file to train from")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "clear the slot before training it")
	cmd.MarkFlagRequired("slot")
	cmd.MarkFlagRequired("wav")
	return cmd
}
