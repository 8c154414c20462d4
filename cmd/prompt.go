package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/app"
	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/orchestrator"
	"github.com/leanscribe/internal/prompts"
)

const priceNotice = "Prices are estimates from a characters/3 token count and may be inaccurate."

var renderFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "from",
		Usage: "Resolve the template relative to the template `ID` it was triggered from",
	},
	&cli.StringSliceFlag{
		Name:  "var",
		Usage: "Extra template variable as `NAME=VALUE` (repeatable)",
	},
	&cli.BoolFlag{
		Name:  "follow-up",
		Usage: "Render the template's follow-up instead",
	},
	&cli.BoolFlag{
		Name:  "full",
		Usage: "Estimate against every available model",
	},
}, documentFlags...)

// SearchCommand returns the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search prompt templates by description or path",
		ArgsUsage: "[QUERY]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: prompts.DefaultSearchLimit,
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				results := a.Search(strings.Join(c.Args().Slice(), " "), c.Int("limit"))
				if len(results) == 0 {
					fmt.Println("No matching templates")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, t := range results {
					fmt.Fprintf(w, "%s\t%s\n", t.ShortPath, t.Description)
				}
				return w.Flush()
			})
		},
	}
}

// RenderCommand returns the render command
func RenderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a template against a Lean file",
		ArgsUsage: "TEMPLATE",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the rendered prompt and estimate as JSON",
			},
		}, renderFlags...),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				r, _, err := render(ctx, c, a)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(r)
				}
				printPrompt(os.Stdout, r.Prompt)
				printReport(os.Stderr, r.Report, a.Config().Scribe.AcknowledgePriceUnreliable)
				return nil
			})
		},
	}
}

// ReportCommand returns the report command
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Estimate tokens and cost of a rendered template",
		ArgsUsage: "TEMPLATE",
		Flags:     renderFlags,
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				r, _, err := render(ctx, c, a)
				if err != nil {
					return err
				}
				printReport(os.Stdout, r.Report, a.Config().Scribe.AcknowledgePriceUnreliable)
				return nil
			})
		},
	}
}

// RunCommand returns the run command
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Render a template and stream a model's reply",
		ArgsUsage: "TEMPLATE",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model `NAME` from models.json (default: first default model)",
			},
		}, renderFlags...),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				r, doc, err := render(ctx, c, a)
				if err != nil {
					return err
				}

				model := c.String("model")
				if model == "" {
					defaults := a.Models(false)
					if len(defaults) == 0 {
						return errors.New("no default model available, pass --model")
					}
					model = defaults[0].Name
				}

				printer := &streamPrinter{out: os.Stdout}
				res, err := a.Run(ctx, app.RunRequest{
					Model:    model,
					Prompt:   r.Prompt,
					Template: r.Template,
					Document: doc,
				}, printer)
				if err != nil {
					return err
				}
				for _, e := range res.Errors {
					fmt.Fprintf(os.Stderr, "Warning: %s\n", e)
				}
				fmt.Fprintf(os.Stderr, "\n%s: %d in / %d out tokens, $%.4f\n",
					res.Report.Model, res.Report.InputTokens, res.Report.OutputTokens, res.Report.CostTotal)
				return nil
			})
		},
	}
}

func render(ctx context.Context, c *cli.Context, a *app.App) (*app.Rendered, *editor.Document, error) {
	if c.NArg() != 1 {
		return nil, nil, errors.New("expected exactly one TEMPLATE argument")
	}
	doc, err := openDocument(c)
	if err != nil {
		return nil, nil, err
	}
	extra, err := extraVars(c)
	if err != nil {
		return nil, nil, err
	}

	r, err := a.Render(ctx, app.RenderRequest{
		TemplateID: c.Args().First(),
		From:       c.String("from"),
		Document:   doc,
		Extra:      extra,
		Full:       c.Bool("full"),
		FollowUp:   c.Bool("follow-up"),
	})
	return r, doc, err
}

func printPrompt(w io.Writer, p prompts.RenderedPrompt) {
	if p.System != "" {
		fmt.Fprintf(w, "# System\n\n%s\n\n# Prompt\n\n", p.System)
	}
	fmt.Fprintln(w, p.User)
}

func printReport(w io.Writer, report accounting.PromptReport, acknowledged bool) {
	fmt.Fprintf(w, "\nEstimated tokens: %.0f\n", report.Tokens)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range report.Models {
		limit := ""
		if m.ExceedsLimit {
			limit = "exceeds context limit"
		}
		fmt.Fprintf(tw, "%s\t$%.4f\t%s\n", m.Model, m.Cost, limit)
	}
	tw.Flush()
	if !acknowledged {
		fmt.Fprintln(w, priceNotice)
	}
}

// streamPrinter writes the new part of each cumulative update. When the
// final text differs from what was streamed (after cleanup or
// post-processing) it is printed in full.
type streamPrinter struct {
	out     io.Writer
	printed string
}

func (p *streamPrinter) EmitEvent(ctx context.Context, e *orchestrator.Event) error {
	switch e.Type {
	case orchestrator.EventAdd, orchestrator.EventUpdate:
		if strings.HasPrefix(e.Text, p.printed) {
			_, err := io.WriteString(p.out, e.Text[len(p.printed):])
			p.printed = e.Text
			return err
		}
		p.printed = e.Text
		_, err := fmt.Fprintf(p.out, "\n%s", e.Text)
		return err
	case orchestrator.EventReplace:
		if e.Text == p.printed {
			_, err := fmt.Fprintln(p.out)
			return err
		}
		_, err := fmt.Fprintf(p.out, "\n\n---\n\n%s\n", e.Text)
		return err
	}
	return nil
}
