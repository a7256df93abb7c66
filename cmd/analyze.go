package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/aggregator"
)

const analyzeSystemPrompt = `You are a Power TAC tournament analyst. You are given windowed statistics
aggregated from the simulation logs of a tournament and a question from a
researcher.

Rules:
- Answer ONLY from the data provided. Never invent or estimate statistics.
- Always cite specific numbers (bin index and value) when making a claim.
- If the data is insufficient to answer confidently, say so explicitly.
- Be concise. Answer in Markdown.

Data glossary:
- Weekly bins are hour-of-week, index = (day-of-week - 1) * 24 + hour, Monday = day 1.
- Daily, Weekday and Weekend bins are hour-of-day 0..23.
- Game bins are timeslots from the start of the sim session.
- mean/std are over all games' observations in a bin; p5/p50/p95 are nearest-rank percentiles.
- net-demand, consumption and production are kWh per timeslot as reported by customers.
- Imbalance and regulation types are in MWh; imbalanceCost is in thousands of currency units.
- rejected lists games discarded because a value exceeded the sanity threshold.`

var (
	analyzeModel    string
	analyzeAPIKey   string
	analyzeType     string
	analyzeInterval string
	analyzeRaw      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <manifest> <dir> <question>",
	Short: "AI-powered grounded commentary on aggregated data (requires ANTHROPIC_API_KEY)",
	Long: `Aggregate --type over the tournament, send the per-bin summary together with
the question to the Anthropic API, and print the answer rendered as Markdown.`,
	Args: cobra.ExactArgs(3),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "claude-haiku-4-5-20251001", "Anthropic model to use")
	analyzeCmd.Flags().StringVar(&analyzeAPIKey, "api-key", "", "Anthropic API key (falls back to $ANTHROPIC_API_KEY)")
	analyzeCmd.Flags().StringVar(&analyzeType, "type", "net-demand", "data type to aggregate")
	analyzeCmd.Flags().StringVar(&analyzeInterval, "interval", "Weekly", "window: Game, Weekly, Daily, Weekday or Weekend")
	analyzeCmd.Flags().BoolVar(&analyzeRaw, "raw", false, "stream the answer unrendered")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	iv, err := aggregator.ParseInterval(analyzeInterval)
	if err != nil {
		return err
	}
	a, err := buildAggregator(ctx, args[0], args[1], analyzeType, false, false)
	if err != nil {
		return err
	}
	if len(a.Games()) == 0 {
		return fmt.Errorf("no games aggregated; nothing to analyze")
	}
	data, err := json.MarshalIndent(summarize(a, iv), "", "  ")
	if err != nil {
		return err
	}
	return callAnthropic(ctx, analyzeAPIKey, analyzeModel, string(data), args[2])
}

// binSummary is one bin index of the analysis payload.
type binSummary struct {
	Index int     `json:"index"`
	N     int     `json:"n"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	P5    float64 `json:"p5"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

type analysisPayload struct {
	DataType string       `json:"data_type"`
	Interval string       `json:"interval"`
	Games    int          `json:"games"`
	Rejected []string     `json:"rejected,omitempty"`
	Bins     []binSummary `json:"bins"`
}

func summarize(a *aggregator.Aggregator, iv aggregator.Interval) analysisPayload {
	b := a.Bin(iv)
	mean := aggregator.Reduce(b, aggregator.OpMean)
	std := aggregator.Reduce(b, aggregator.OpStdDev)
	pc := aggregator.Contours(b, []float64{0.05, 0.5, 0.95})
	out := analysisPayload{
		DataType: a.DataType().Name,
		Interval: iv.String(),
		Games:    len(a.Games()),
		Rejected: a.Rejected,
	}
	for i, obs := range b.Bins {
		if len(obs) == 0 {
			continue
		}
		out.Bins = append(out.Bins, binSummary{
			Index: i, N: len(obs),
			Mean: round2(mean[i]), Std: round2(std[i]),
			P5: round2(pc[0][i]), P50: round2(pc[1][i]), P95: round2(pc[2][i]),
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// callAnthropic streams a response from the Anthropic API. Unless --raw is
// set the answer is collected and rendered as Markdown once complete.
func callAnthropic(ctx context.Context, apiKey, modelID, dataJSON, question string) error {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or use --api-key")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	userMsg := fmt.Sprintf("DATA:\n%s\n\nQUESTION: %s", dataJSON, question)

	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: analyzeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)),
		},
	})

	var answer strings.Builder
	for stream.Next() {
		evt := stream.Current()
		if evt.Type == "content_block_delta" {
			delta := evt.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" {
				text := delta.Delta.AsTextDelta().Text
				if analyzeRaw {
					fmt.Fprint(os.Stdout, text)
				}
				answer.WriteString(text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "authentication") {
			return fmt.Errorf("API authentication failed, check your API key")
		}
		return fmt.Errorf("streaming error: %w", err)
	}
	if analyzeRaw {
		fmt.Fprintln(os.Stdout)
		return nil
	}
	return renderMarkdown(answer.String())
}

func renderMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Fprintln(os.Stdout, md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprintln(os.Stdout, md)
		return nil
	}
	fmt.Fprint(os.Stdout, out)
	return nil
}
