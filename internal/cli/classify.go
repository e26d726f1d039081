package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexviseme/internal/audio"
	"github.com/normanking/cortexviseme/internal/spectral"
	"github.com/normanking/cortexviseme/internal/viseme"
)

type blockResult struct {
	Block       int                       `json:"block"`
	Time        float64                   `json:"time"`
	Best        int                       `json:"best"`
	Name        string                    `json:"name"`
	HasBest     bool                      `json:"hasBest"`
	Level       float32                   `json:"level"`
	Confidences [viseme.SlotCount]float32 `json:"confidences"`
}

func newClassifyCommand(a *app) *cobra.Command {
	var (
		wavPath string
		changes bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Print the best slot for every block of a WAV recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.newEngine(false)
			if err != nil {
				return err
			}
			if err := engine.Load(""); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("no trained model at %s, run train first", a.cfg.Model.Path)
				}
				return err
			}

			clip, err := audio.ReadWAVFile(wavPath, a.cfg.Audio.SampleRate)
			if err != nil {
				return err
			}

			var (
				results  []blockResult
				index    int
				lastBest = viseme.NoSlot
				blockDur = float64(spectral.FFTSize) / float64(clip.SampleRate)
			)
			framer := audio.NewFramer(func(block *[spectral.FFTSize]float32) {
				defer func() { index++ }()
				if err := engine.Process(block[:]); err != nil {
					return
				}
				best, ok := engine.BestSlot()
				if changes && len(results) > 0 && best == lastBest {
					return
				}
				lastBest = best
				results = append(results, blockResult{
					Block:       index,
					Time:        float64(index) * blockDur,
					Best:        best,
					Name:        viseme.SlotName(best),
					HasBest:     ok,
					Level:       engine.Level(),
					Confidences: engine.Confidences(),
				})
			})
			framer.Write(clip.Samples)

			a.log.Debug("classify", "Classified recording", map[string]interface{}{
				"wav":             wavPath,
				"blocks":          framer.Blocks(),
				"ignored_samples": framer.Pending(),
			})

			if a.outputFormat == outputJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}

			opts := engine.Options()
			tw := newTable(cmd.OutOrStdout(), "BLOCK", "TIME", "BEST", "LEVEL", "CONFIDENCES")
			for _, r := range results {
				name := "-"
				if r.HasBest {
					name = r.Name
				}
				fmt.Fprintf(tw, "%d\t%.3f\t%s\t%.3f\t%s\n", r.Block, r.Time, name, r.Level,
					formatConfidences(r.Confidences, opts.ScanFrom, opts.ScanTo))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&wavPath, "wav", "w", "", "WAV file to classify")
	cmd.Flags().BoolVar(&changes, "changes", false, "only print blocks where the best slot changes")
	cmd.MarkFlagRequired("wav")
	return cmd
}
