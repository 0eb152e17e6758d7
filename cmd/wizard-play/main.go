package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	playback "github.com/e7canasta/wizard-playback"
	"github.com/e7canasta/wizard-playback/internal/config"
	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WIZARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "wizard-play",
		Short:         "Headless timeline playback engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogger(v.GetBool("debug"))
		},
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newPlayCmd(v), newInspectCmd(), newVersionCmd())
	return root
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func newPlayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a project until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runPlay(cmd.Context(), v.GetString("project"), cfg, v.GetBool("reverse"))
		},
	}
	f := cmd.Flags()
	f.String("project", "", "Path to the project file (YAML)")
	f.String("config", "", "Path to the player configuration file")
	f.String("status.http_addr", "", "Health endpoint address, e.g. :8080")
	f.String("mqtt.broker", "", "MQTT broker for remote control")
	f.Bool("audio.enabled", true, "Open the default audio device")
	f.Int("tick_hz", 0, "Engine tick rate")
	f.Bool("reverse", false, "Start in reverse from the end")
	_ = cmd.MarkFlagRequired("project")

	for _, name := range []string{"project", "config", "status.http_addr", "mqtt.broker", "audio.enabled", "tick_hz", "reverse"} {
		_ = v.BindPFlag(name, f.Lookup(name))
	}
	return cmd
}

// loadConfig reads the config file, if any, and layers flags and WIZARD_*
// variables on top.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v.IsSet("status.http_addr") {
		cfg.Status.HTTPAddr = v.GetString("status.http_addr")
	}
	if v.IsSet("mqtt.broker") {
		cfg.MQTT.Broker = v.GetString("mqtt.broker")
	}
	if v.IsSet("audio.enabled") {
		cfg.Audio.Enabled = v.GetBool("audio.enabled")
	}
	if v.IsSet("tick_hz") && v.GetInt("tick_hz") > 0 {
		cfg.TickHz = v.GetInt("tick_hz")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func runPlay(ctx context.Context, projectPath string, cfg *config.Config, reverse bool) error {
	project, err := timeline.LoadProject(projectPath)
	if err != nil {
		return err
	}

	slog.Info("starting wizard player",
		"project", projectPath,
		"instance_id", cfg.InstanceID,
		"duration", project.Timeline.Duration(),
	)

	player, err := playback.New(playback.Options{Config: cfg, Project: project})
	if err != nil {
		return err
	}
	defer player.Close()

	for _, src := range project.Sources {
		media.Prewarm(src.Path)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := player.Start(ctx); err != nil {
		return err
	}
	if reverse {
		_ = player.Seek(project.Timeline.Duration())
		player.PlayReverse()
	} else {
		player.Play()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal, stopping player")
			return player.Stop()
		case <-ticker.C:
			s := player.Stats()
			slog.Info("playback status",
				"state", s.Engine.State,
				"playhead", fmt.Sprintf("%.3f", s.Engine.Playhead),
				"source", s.Engine.LastSource,
				"video_fps", fmt.Sprintf("%.1f", s.Engine.VideoFPS),
				"frames", s.Display.Published,
			)
			if s.Engine.State == timeline.Stopped.String() {
				slog.Info("reached the end of the timeline")
				return player.Stop()
			}
		}
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Report duration and streams of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			p, err := media.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:      %s\n", p.Path)
			fmt.Fprintf(out, "size:      %s\n", humanize.Bytes(uint64(info.Size())))
			fmt.Fprintf(out, "duration:  %s\n", p.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "video:     %t\n", p.HasVideo)
			fmt.Fprintf(out, "audio:     %t\n", p.HasAudio)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wizard-play", version)
		},
	}
}
