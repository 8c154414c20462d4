package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/app"
	"github.com/leanscribe/internal/config"
)

// CredentialCheckResult holds the provider credentials found in the
// environment after <folder>/.env was loaded.
type CredentialCheckResult struct {
	Missing []string          // Providers without a key
	Present map[string]string // Variables that are set (masked values)
}

// CheckCredentials reports which hosted providers have an API key set.
func CheckCredentials(getenv func(string) string) *CredentialCheckResult {
	result := &CredentialCheckResult{
		Missing: []string{},
		Present: make(map[string]string),
	}
	for provider, key := range aiconnectors.EnvKeys {
		val := getenv(key)
		if val == "" {
			result.Missing = append(result.Missing, fmt.Sprintf("%s (%s)", provider, key))
		} else {
			result.Present[key] = maskSecret(val)
		}
	}
	sort.Strings(result.Missing)
	return result
}

// PrintCredentialCheck prints the credential check results
func PrintCredentialCheck(result *CredentialCheckResult) {
	if len(result.Present) > 0 {
		fmt.Println("Configured credentials:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
	}
	if len(result.Missing) > 0 {
		fmt.Println("Providers without credentials:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
	}
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// ModelsCommand returns the models command
func ModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List available models and provider credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "List every available model, not only defaults",
			},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				models := a.Models(c.Bool("all"))
				if len(models) == 0 {
					fmt.Printf("No models available. Check %s in %s.\n", config.ModelsFileName, a.Config().Scribe.Folder)
				}
				for _, m := range models {
					fmt.Printf("%-24s %-10s in $%.2f/M  out $%.2f/M  limit %d\n",
						m.Name, m.Type, m.InputCost(), m.OutputCost(), m.Limit)
				}
				fmt.Println()
				PrintCredentialCheck(CheckCredentials(os.Getenv))
				return nil
			})
		},
	}
}
