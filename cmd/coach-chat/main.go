package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coachlive/coach-go/internal/dotenv"
	coach "github.com/coachlive/coach-go/sdk"
)

var errQuitRequested = errors.New("quit requested")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  appConfig
	)

	cmd := &cobra.Command{
		Use:           "coach-chat",
		Short:         "Voice and text chat with your training coach",
		Long:          "coach-chat streams microphone audio to the coach agent, plays its voice replies, and keeps your daily training plan in sync with the backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dotenv.Load(".env"); err != nil {
				return err
			}
			cfg := defaultConfig()
			if err := loadConfigFile(&cfg, configPath); err != nil {
				return err
			}
			if err := applyEnv(&cfg, os.Getenv); err != nil {
				return err
			}
			mergeFlags(&cfg, cmd, overrides)
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, os.Stdin, os.Stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "coach-chat.yaml", "path to the YAML config file")
	flags.StringVar(&overrides.AgentURL, "agent-url", "", "coach agent base URL")
	flags.StringVar(&overrides.BackendURL, "backend-url", "", "coaching backend base URL")
	flags.StringVar(&overrides.UserEmail, "email", "", "user email identifying the account")
	flags.StringVar(&overrides.Source, "source", "", "client source tag reported on plan updates")
	flags.Float64Var(&overrides.Gain, "gain", 0, "outbound microphone gain multiplier")
	flags.IntVar(&overrides.Volume, "volume", 0, "playback volume (0-100)")
	flags.BoolVar(&overrides.NoMic, "no-mic", false, "run text-only, without microphone capture")
	flags.BoolVar(&overrides.NoSpeaker, "no-speaker", false, "discard agent audio instead of playing it")
	return cmd
}

func mergeFlags(cfg *appConfig, cmd *cobra.Command, overrides appConfig) {
	if cmd.Flags().Changed("agent-url") {
		cfg.AgentURL = overrides.AgentURL
	}
	if cmd.Flags().Changed("backend-url") {
		cfg.BackendURL = overrides.BackendURL
	}
	if cmd.Flags().Changed("email") {
		cfg.UserEmail = overrides.UserEmail
	}
	if cmd.Flags().Changed("source") {
		cfg.Source = overrides.Source
	}
	if cmd.Flags().Changed("gain") {
		cfg.Gain = overrides.Gain
	}
	if cmd.Flags().Changed("volume") {
		cfg.Volume = overrides.Volume
	}
	if cmd.Flags().Changed("no-mic") {
		cfg.NoMic = overrides.NoMic
	}
	if cmd.Flags().Changed("no-speaker") {
		cfg.NoSpeaker = overrides.NoSpeaker
	}
}

func run(ctx context.Context, cfg appConfig, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := coach.NewClient(
		coach.WithAgentURL(cfg.AgentURL),
		coach.WithBackendURL(cfg.BackendURL),
		coach.WithUserEmail(cfg.UserEmail),
		coach.WithSource(cfg.Source),
		coach.WithLogger(logger),
	)

	capture, speaker, err := buildAudio(cfg)
	if err != nil {
		return err
	}

	sess, err := client.Stream.Connect(ctx, coach.ConnectOptions{
		Capture: capture,
		Speaker: speaker,
		Gain:    cfg.Gain,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	watcher := client.Plan.Watch()
	defer watcher.Stop()

	if snap, err := client.Plan.Load(ctx, "today"); err != nil {
		fmt.Fprintf(out, "[err] could not load today's plan: %v\n", err)
	} else {
		printPlan(out, snap)
	}
	fmt.Fprintln(out, "Commands: /plan [date], /plus <cat> [drill] [note], /minus <cat> [drill], /mute, /delete, /quit. Anything else is sent to the coach.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pumpEvents(gctx, out, sess, client.Plan)
	})
	g.Go(func() error {
		return commandLoop(gctx, out, lines, client, sess)
	})

	err = g.Wait()
	if errors.Is(err, errQuitRequested) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildAudio(cfg appConfig) (coach.CaptureSource, coach.Speaker, error) {
	var (
		capture coach.CaptureSource = nullCapture{}
		speaker coach.Speaker       = nullSpeaker{}
		err     error
	)
	if !cfg.NoMic {
		if capture, err = newFFmpegMicCapture(); err != nil {
			return nil, nil, err
		}
	}
	if !cfg.NoSpeaker {
		if speaker, err = newFFplaySpeaker(cfg.Volume); err != nil {
			return nil, nil, err
		}
	}
	return capture, speaker, nil
}

func pumpEvents(ctx context.Context, out io.Writer, sess *coach.StreamSession, plan *coach.PlanService) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sess.Events():
			renderEvent(out, ev)
		case ev := <-plan.Events():
			renderEvent(out, ev)
		}
	}
}

func renderEvent(out io.Writer, ev coach.Event) {
	switch e := ev.(type) {
	case coach.NoticeEvent:
		switch e.Level {
		case coach.NoticeError:
			fmt.Fprintf(out, "\n[err] %s\n", e.Text)
		case coach.NoticeSuccess:
			fmt.Fprintf(out, "\n[ok] %s\n", e.Text)
		default:
			fmt.Fprintf(out, "\n[info] %s\n", e.Text)
		}
	case coach.AgentTextEvent:
		if e.Begin {
			fmt.Fprint(out, "\n[coach] ")
		}
		fmt.Fprint(out, e.Text)
	case coach.TurnCompleteEvent:
		fmt.Fprintln(out)
	case coach.InterruptedEvent:
		fmt.Fprintln(out)
	case coach.UserTextEvent:
		fmt.Fprintf(out, "\n[you] %s\n", e.Text)
	case coach.LevelEvent:
		fmt.Fprintf(out, "\rmic %-10s %3.0f%%", strings.Repeat("|", int(e.Percent/10)), e.Percent)
	case coach.DisconnectedEvent:
		fmt.Fprintf(out, "\n[err] connection lost: %s\n", e.Reason)
	}
}

func commandLoop(ctx context.Context, out io.Writer, lines <-chan string, client *coach.Client, sess *coach.StreamSession) error {
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return errQuitRequested
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := sess.SendText(line); err != nil {
				fmt.Fprintf(out, "[err] %v\n", err)
			}
			continue
		}
		if err := handleCommand(ctx, out, line, client, sess); err != nil {
			if errors.Is(err, errQuitRequested) {
				return err
			}
			fmt.Fprintf(out, "[err] %v\n", err)
		}
	}
}

func handleCommand(ctx context.Context, out io.Writer, line string, client *coach.Client, sess *coach.StreamSession) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return errQuitRequested

	case "/mute":
		sess.ToggleMute()
		return nil

	case "/delete":
		if err := client.Stream.DeleteHistory(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "[ok] Chat history deleted.")
		return nil

	case "/plan":
		date := ""
		if len(fields) > 1 {
			date = fields[1]
		}
		snap, err := client.Plan.Load(ctx, date)
		if err != nil {
			return err
		}
		printPlan(out, snap)
		return nil

	case "/plus", "/minus":
		delta := 1
		if fields[0] == "/minus" {
			delta = -1
		}
		if len(fields) < 2 {
			return fmt.Errorf("usage: %s <category> [drill] [note]", fields[0])
		}
		category := fields[1]
		if len(fields) == 2 {
			_, err := client.Plan.AdjustCategoryReps(ctx, category, delta, nil)
			return err
		}
		drill := fields[2]
		note := strings.Join(fields[3:], " ")
		_, err := client.Plan.AdjustDrillReps(ctx, category, drill, delta, note)
		return err

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func printPlan(out io.Writer, snap *coach.PlanSnapshot) {
	mode := "read-only"
	if snap.Editable {
		mode = "editable"
	}
	fmt.Fprintf(out, "\nTraining plan for %s (%s)\n", snap.Date, mode)
	if snap.Template == nil {
		return
	}

	categoryIDs := make([]string, 0, len(snap.Template.Categories))
	for id := range snap.Template.Categories {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Strings(categoryIDs)

	for _, catID := range categoryIDs {
		cat := snap.Template.Categories[catID]
		fmt.Fprintf(out, "  %s (%s)\n", cat.Name, catID)

		drillIDs := make([]string, 0, len(cat.Drills))
		for id := range cat.Drills {
			drillIDs = append(drillIDs, id)
		}
		sort.Strings(drillIDs)

		for _, drillID := range drillIDs {
			drill := cat.Drills[drillID]
			var ach coach.Achievement
			if snap.Daily != nil {
				ach = snap.Daily.Repetitions[catID][drillID]
			}
			fmt.Fprintf(out, "    %-24s %3d / %d", drill.Name, ach.Repetition, drill.TargetRepetition)
			if ach.Note != "" {
				fmt.Fprintf(out, "  (%s)", ach.Note)
			}
			fmt.Fprintln(out)
		}
	}
}
