package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ashureev/focus-coach/internal/client"
	"github.com/ashureev/focus-coach/internal/coach"
	"github.com/ashureev/focus-coach/internal/orchestrator"
)

// voiceTurnTimeout bounds how long the voice command waits for one reply.
const voiceTurnTimeout = 60 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp(in io.Reader, out io.Writer) *cli.App {
	app := &cli.App{
		Name:      "coach",
		Usage:     "Productivity coaching for neurodivergent minds",
		Version:   Version,
		Reader:    in,
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			askCmd(in, out),
			promptCmd(in, out),
			voiceCmd(in, out),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		EnvVars: []string{"COACH_SERVER"},
		Usage:   "Focus coach server URL",
	}
}

func requestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(coach.KindBrainDump), Usage: "Input type: task|brain_dump|voice_note"},
		&cli.IntFlag{Name: "mood", Usage: "Current mood score (1-10)"},
		&cli.IntFlag{Name: "energy", Usage: "Current energy level (1-10)"},
		&cli.StringFlag{Name: "tasks", Usage: "Comma-separated existing tasks"},
		&cli.BoolFlag{Name: "history", Usage: "Let the server add your stored tasks and latest mood"},
	}
}

// askCmd creates the ask command.
func askCmd(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask the coach (input from arguments or stdin)",
		ArgsUsage: "[input]",
		Flags:     append(requestFlags(), serverFlag()),
		Action: func(c *cli.Context) error {
			req, err := requestFromFlags(c, in)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			cl, err := client.New(c.String("server"), nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			resp, err := cl.Coach(c.Context, req)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return outputJSON(out, resp)
		},
	}
}

// promptCmd creates the prompt command.
func promptCmd(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "prompt",
		Usage:     "Print the prompt that would be sent to the model",
		ArgsUsage: "[input]",
		Flags:     requestFlags(),
		Action: func(c *cli.Context) error {
			req, err := requestFromFlags(c, in)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := req.Validate(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			_, err = fmt.Fprintln(out, coach.BuildPrompt(req))
			return err
		},
	}
}

// voiceCmd creates the voice command: each stdin line is a transcript,
// "/quick NAME" triggers a quick action and "/replay" repeats the last reply.
func voiceCmd(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "voice",
		Usage: "Run a voice-style coaching session over stdin",
		Flags: []cli.Flag{serverFlag()},
		Action: func(c *cli.Context) error {
			cl, err := client.New(c.String("server"), nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return runVoice(c.Context, cl, in, out)
		},
	}
}

// printSpeaker writes spoken text to the terminal and reports playback as
// finished right away.
type printSpeaker struct {
	out     io.Writer
	session *orchestrator.Session
	turns   chan struct{}
}

func (p *printSpeaker) Speak(playID uint64, text string) error {
	fmt.Fprintf(p.out, "coach> %s\n", text)
	go func() {
		p.session.SpeechFinished(playID)
		p.turns <- struct{}{}
	}()
	return nil
}

func (p *printSpeaker) Stop() {}

func runVoice(ctx context.Context, coacher orchestrator.Coacher, in io.Reader, out io.Writer) error {
	speaker := &printSpeaker{out: out, turns: make(chan struct{}, 1)}
	session := orchestrator.NewSession(coacher, speaker, orchestrator.Options{
		VoiceDelay:       time.Millisecond,
		QuickActionDelay: time.Millisecond,
		Context: func() *coach.Context {
			return &coach.Context{IncludeHistoricalData: true}
		},
		Listener: func(ev orchestrator.Event) {
			if ev.Type == orchestrator.EventError {
				fmt.Fprintf(out, "error> %v\n", ev.Err)
				speaker.turns <- struct{}{}
			}
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	speaker.session = session
	defer session.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var issued bool
		switch {
		case line == "":
			continue
		case line == "/replay":
			issued = session.ReplayLastResponse()
		case strings.HasPrefix(line, "/quick "):
			issued = session.QuickAction(strings.TrimSpace(strings.TrimPrefix(line, "/quick ")))
		default:
			session.VoiceCaptureStarted()
			issued = session.VoiceCaptureCompleted(line)
		}
		if !issued {
			fmt.Fprintln(out, "...")
			continue
		}

		select {
		case <-speaker.turns:
		case <-time.After(voiceTurnTimeout):
			return cli.Exit("timed out waiting for the coach", 1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// requestFromFlags builds a coaching request from flags and the first
// argument, falling back to stdin for the input.
func requestFromFlags(c *cli.Context, in io.Reader) (coach.Request, error) {
	input := strings.Join(c.Args().Slice(), " ")
	if input == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return coach.Request{}, fmt.Errorf("read stdin: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}

	req := coach.Request{Input: input, Kind: coach.Kind(c.String("type"))}
	var cctx coach.Context
	hasContext := false
	if c.IsSet("mood") {
		cctx.MoodScore = coach.IntPtr(c.Int("mood"))
		hasContext = true
	}
	if c.IsSet("energy") {
		cctx.EnergyLevel = coach.IntPtr(c.Int("energy"))
		hasContext = true
	}
	if tasks := parseList(c.String("tasks")); len(tasks) > 0 {
		cctx.ExistingTasks = tasks
		hasContext = true
	}
	if c.Bool("history") {
		cctx.IncludeHistoricalData = true
		hasContext = true
	}
	if hasContext {
		req.Context = &cctx
	}
	return req, nil
}

// parseList splits a comma-separated string, dropping empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
