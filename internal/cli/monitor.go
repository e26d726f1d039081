package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexviseme/internal/audio"
	"github.com/normanking/cortexviseme/internal/avatar"
	"github.com/normanking/cortexviseme/internal/bus"
	"github.com/normanking/cortexviseme/internal/lipsync"
	"github.com/normanking/cortexviseme/internal/monitor"
	"github.com/normanking/cortexviseme/internal/spectral"
)

func newMonitorCommand(a *app) *cobra.Command {
	var (
		wavPath  string
		loop     bool
		addr     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve live confidences over a websocket",
		Long: `Run the engine and serve its frames on the websocket monitor.

With --wav the recording is replayed in real time, one block every
512/sample_rate seconds, as if it came from the audio callback. Clients can
send train, stop, clear, save and load commands. Recent log entries are
served on /logs and streamed to clients as they are written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if changed(cmd.Flags(), "addr") {
				a.cfg.Monitor.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			var clip *audio.Clip
			if wavPath != "" {
				var err error
				if clip, err = audio.ReadWAVFile(wavPath, a.cfg.Audio.SampleRate); err != nil {
					return err
				}
			}

			eventBus := bus.NewEventBus()
			ctrl := avatar.NewController()
			logger := a.log.Component("monitor")
			ctrl.SetStateHandler(func(s avatar.State) {
				logger.Debug().Str("mouth", string(s.MouthShape)).Int("slot", s.Slot).Msg("Mouth changed")
				eventBus.Publish(bus.Event{
					Type: bus.EventTypeMouthShapeChanged,
					Data: map[string]any{"mouth": s.MouthShape, "slot": s.Slot},
				})
			})
			eventBus.SubscribeMultiple([]bus.EventType{
				bus.EventTypeTalkingStarted,
				bus.EventTypeTalkingStopped,
			}, func(ev bus.Event) {
				logger.Debug().Str("event", string(ev.Type)).Interface("level", ev.Data["level"]).Msg("Talking changed")
			})

			engine, err := lipsync.New(lipsync.Config{
				Options:   a.cfg.ClassifierOptions(),
				Meter:     a.cfg.MeterConfig(),
				ModelPath: a.cfg.Model.Path,
			}, a.log.Component("lipsync"), eventBus, ctrl)
			if err != nil {
				return err
			}
			if a.cfg.Model.Autoload {
				if err := engine.Load(""); err != nil {
					logger.Warn().Err(err).Msg("Starting with untrained models")
				}
			}

			if a.cfg.Model.Watch {
				if err := os.MkdirAll(filepath.Dir(a.cfg.Model.Path), 0755); err != nil {
					return err
				}
				w, err := lipsync.NewWatcher(engine, a.cfg.Model.Path, a.log.Component("watcher"))
				if err != nil {
					return err
				}
				defer w.Close()
			}

			if clip != nil {
				go replay(ctx, engine, clip, loop)
			}

			server := monitor.New(monitor.Config{
				Addr:     a.cfg.Monitor.Addr,
				Interval: a.cfg.Monitor.Interval,
			}, engine, eventBus, logger)
			server.ServeLogs(a.log)
			if path := a.log.GetLogPath(); path != "" {
				logger.Info().Str("file", path).Msg("Writing logs")
			}

			ready := make(chan net.Addr, 1)
			errc := make(chan error, 1)
			go func() { errc <- server.ListenAndServe(ctx, ready) }()

			select {
			case addr := <-ready:
				fmt.Fprintf(cmd.OutOrStdout(), "monitor listening on ws://%s%s\n", addr, monitor.WebSocketEndpoint)
			case err := <-errc:
				return err
			}
			return <-errc
		},
	}

	cmd.Flags().StringVarP(&wavPath, "wav", "w", "", "WAV file to replay as live input")
	cmd.Flags().BoolVar(&loop, "loop", false, "replay the WAV file until interrupted")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8765)")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

// replay feeds clip to the engine one block per block period, standing in
// for the audio callback.
func replay(ctx context.Context, engine *lipsync.Engine, clip *audio.Clip, loop bool) {
	period := time.Duration(float64(time.Second) * spectral.FFTSize / float64(clip.SampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pos+spectral.FFTSize > len(clip.Samples) {
			if !loop {
				return
			}
			pos = 0
			if len(clip.Samples) < spectral.FFTSize {
				return
			}
		}
		_ = engine.Process(clip.Samples[pos : pos+spectral.FFTSize])
		pos += spectral.FFTSize
	}
}
