// Command parse-image uploads a menu image to the recognition backend, polls
// the image search to completion and prints the recognized items.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raine/menu-visualizer/internal/coordinator"
	"github.com/raine/menu-visualizer/internal/intake"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/raine/menu-visualizer/internal/render"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	itemStyle    = lipgloss.NewStyle().Bold(true)
	matchedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func main() {
	apiURL := flag.String("api", envOr("MENU_API_URL", menuapi.DefaultBaseURL), "Recognition backend URL")
	timeout := flag.Duration("timeout", menuapi.DefaultUploadTimeout, "Upload timeout")
	interval := flag.Duration("interval", coordinator.DefaultPollInterval, "Status poll interval")
	check := flag.Bool("check", false, "Only check that the backend is up")
	rawJSON := flag.Bool("json", false, "Output the final items as JSON")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] FILE\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := menuapi.NewClient(menuapi.ClientOpts{BaseURL: *apiURL, UploadTimeout: *timeout})

	if *check {
		health, err := client.Health(ctx)
		if err != nil {
			fail(menuapi.UserMessage(err))
		}
		fmt.Printf("%s %s: %s\n", matchedStyle.Render("✓"), client.BaseURL(), health.Message)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	file, err := intake.ReadFile(flag.Arg(0))
	if err != nil {
		fail(err.Error())
	}
	preview, err := intake.Validate(file)
	if err != nil {
		fail(intake.UserMessage(err))
	}
	log.Debug().
		Str("file", preview.File.Name).
		Str("mimeType", preview.File.MIMEType).
		Int("width", preview.Width).
		Int("height", preview.Height).
		Msg("image accepted")

	done := make(chan coordinator.State, 1)
	c := coordinator.New(client, coordinator.Options{
		PollInterval: *interval,
		OnChange: func(s coordinator.State) {
			if !*rawJSON {
				printProgress(s)
			}
			switch s.Phase {
			case coordinator.PhaseCompleted, coordinator.PhasePollError:
				select {
				case done <- s:
				default:
				}
			}
		},
	})

	if !*rawJSON {
		fmt.Fprintf(os.Stderr, "Uploading %s (%s) to %s\n",
			preview.File.Name, humanize.IBytes(uint64(preview.File.Size())), client.BaseURL())
	}
	if err := c.Submit(ctx, preview); err != nil {
		fail(menuapi.UserMessage(err))
	}

	select {
	case s := <-done:
		if *rawJSON {
			printJSON(s)
		} else {
			printResults(s)
		}
		if s.Phase == coordinator.PhasePollError {
			os.Exit(1)
		}
	case <-ctx.Done():
		c.Reset()
		fmt.Fprintln(os.Stderr, "\nCancelled.")
		os.Exit(130)
	}
}

func printProgress(s coordinator.State) {
	line := render.Banner(s)
	if line == "" {
		return
	}
	if s.Phase == coordinator.PhasePolling && s.ProcessingStatus != nil && s.ProcessingStatus.Total > 0 {
		line = render.ProgressBar(s.ProcessingStatus.Progress, 20) + " " + line
	}
	fmt.Fprintln(os.Stderr, dimStyle.Render(line))
}

func printResults(s coordinator.State) {
	r := s.Results
	summary := render.Summarize(r.Items)

	fmt.Println()
	fmt.Println(titleStyle.Render("Processing Results"))
	fmt.Println(summary.Headline())
	fmt.Println(dimStyle.Render(fmt.Sprintf("Detected: %d · Matched: %d · Unmatched: %d · Session ID: %s",
		summary.Total, summary.Matched, summary.Unmatched, r.SessionID)))
	if r.OCRError != "" {
		fmt.Println(warnStyle.Render("Text recognition problem: " + r.OCRError))
	}
	if s.Phase == coordinator.PhasePollError {
		fmt.Println(warnStyle.Render(s.Error))
	}
	fmt.Println()

	if len(r.Items) == 0 {
		fmt.Println(render.MsgNoItems)
		fmt.Println(dimStyle.Render(render.MsgNoItemsHint))
		return
	}

	for i, item := range r.Items {
		badge := render.MatchBadge(item)
		if item.Matched {
			badge = matchedStyle.Render(badge)
		} else {
			badge = dimStyle.Render(badge)
		}
		if pct, ok := render.ConfidencePercent(item); ok {
			badge += " " + pct
		}

		name := item.Name
		if render.ShowEnglishName(item) {
			name += dimStyle.Render(" (" + item.NameEnglish + ")")
		}
		fmt.Printf("%d. %s  %s", i+1, itemStyle.Render(name), badge)
		if item.Price != "" {
			fmt.Printf("  %s", item.Price)
		}
		fmt.Println()

		images := render.DisplayImages(item)
		for _, img := range images {
			var credit []string
			if label := render.SourceLabel(img); label != "" {
				credit = append(credit, label)
			}
			if by := render.PhotoCredit(img); by != "" {
				credit = append(credit, by)
			}
			line := "   " + img.URL
			if len(credit) > 0 {
				line += dimStyle.Render(" (" + strings.Join(credit, ", ") + ")")
			}
			fmt.Println(line)
		}
		if len(images) == 0 && !item.Matched {
			fmt.Println(dimStyle.Render("   " + render.MsgNotInCatalog))
		}
	}
}

func printJSON(s coordinator.State) {
	out := struct {
		SessionID string                    `json:"session_id"`
		Status    *menuapi.ProcessingStatus `json:"processing_status"`
		OCRError  string                    `json:"ocr_error,omitempty"`
		Items     []menuapi.Item            `json:"items"`
	}{
		SessionID: s.SessionID,
		Status:    s.ProcessingStatus,
		OCRError:  s.Results.OCRError,
		Items:     s.Results.Items,
	}
	jsonBytes, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(jsonBytes))
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, errStyle.Render("Error: "+msg))
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
