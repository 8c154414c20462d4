package prompts

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/leanscribe/internal/markdown"
)

// Tag and filter registration is process-wide in pongo2.
func init() {
	pongo2.SetAutoescape(false)

	mustRegisterTag("scribe", parseScribeTag)
	mustRegisterTag("prompt", parsePromptTag)

	registerFilter("line_numbers", filterLineNumbers)
	registerFilter("md", filterMarkdown)
	registerFilter("remove_initial_comment", filterRemoveInitialComment)
	registerFilter("contains", filterContains)
}

func mustRegisterTag(name string, parser pongo2.TagParser) {
	if err := pongo2.RegisterTag(name, parser); err != nil {
		panic(fmt.Sprintf("prompts: register tag %q: %v", name, err))
	}
}

func registerFilter(name string, fn pongo2.FilterFunction) {
	var err error
	if pongo2.FilterExists(name) {
		err = pongo2.ReplaceFilter(name, fn)
	} else {
		err = pongo2.RegisterFilter(name, fn)
	}
	if err != nil {
		panic(fmt.Sprintf("prompts: register filter %q: %v", name, err))
	}
}

// {% scribe %} ... {% endscribe %} carries template metadata and renders
// nothing.
type scribeTagNode struct{}

func (scribeTagNode) Execute(*pongo2.ExecutionContext, pongo2.TemplateWriter) *pongo2.Error {
	return nil
}

func parseScribeTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	if arguments.Remaining() > 0 {
		return nil, arguments.Error("The 'scribe' tag takes no arguments.", nil)
	}
	_, endArgs, err := doc.WrapUntilTag("endscribe")
	if err != nil {
		return nil, err
	}
	if endArgs.Remaining() > 0 {
		return nil, endArgs.Error("The 'endscribe' tag takes no arguments.", nil)
	}
	return scribeTagNode{}, nil
}

// TriggerButton is the markup of a {% prompt "path" "label" %} trigger.
func TriggerButton(path, label string) string {
	return fmt.Sprintf(`<button class="trigger-prompt-button button-element px-2 py-1 rounded" data-path="%s">%s</button>`,
		path, label)
}

type promptTagNode struct {
	path  pongo2.IEvaluator
	label pongo2.IEvaluator
}

func (n *promptTagNode) Execute(ctx *pongo2.ExecutionContext, writer pongo2.TemplateWriter) *pongo2.Error {
	path, err := n.path.Evaluate(ctx)
	if err != nil {
		return err
	}
	label, err := n.label.Evaluate(ctx)
	if err != nil {
		return err
	}
	if _, werr := writer.WriteString(TriggerButton(path.String(), label.String())); werr != nil {
		return ctx.Error(werr.Error(), nil)
	}
	return nil
}

// {% prompt "path.md" "Label" %}, the comma between arguments is optional.
func parsePromptTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	path, err := arguments.ParseExpression()
	if err != nil {
		return nil, err
	}
	arguments.Match(pongo2.TokenSymbol, ",")
	label, err := arguments.ParseExpression()
	if err != nil {
		return nil, err
	}
	if arguments.Remaining() > 0 {
		return nil, arguments.Error("The 'prompt' tag takes a path and a label.", nil)
	}
	return &promptTagNode{path: path, label: label}, nil
}

// {{ code|line_numbers }} or {{ code|line_numbers:1 }}
func filterLineNumbers(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	start := 0
	if !param.IsNil() {
		start = param.Integer()
	}
	return pongo2.AsValue(markdown.LineNumbers(in.String(), start)), nil
}

func filterMarkdown(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(markdown.LeanBlock(in.String())), nil
}

func filterRemoveInitialComment(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(markdown.RemoveInitialComment(in.String())), nil
}

func filterContains(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(strings.Contains(in.String(), param.String())), nil
}
