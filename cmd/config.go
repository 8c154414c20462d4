package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample scribe.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   config.DefaultConfigFile,
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration and models.json",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	models, err := config.LoadModels(cfg.Scribe.Folder)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateModels(models); err != nil {
		return fmt.Errorf("invalid %s: %w", config.ModelsFileName, err)
	}

	fmt.Printf("Configuration is valid (scribe folder %s, %d models)\n", cfg.Scribe.Folder, len(models.Models))
	return nil
}

// validateModels checks models.json and that every model type is a
// supported backend.
func validateModels(models *config.ModelsFile) error {
	errs := []error{models.ValidateModels()}
	for _, m := range models.Models {
		if !supportedType(aiconnectors.Provider(m.Type)) {
			errs = append(errs, fmt.Errorf("model %q: unsupported type %q", m.Name, m.Type))
		}
	}
	return errors.Join(errs...)
}

func supportedType(p aiconnectors.Provider) bool {
	if p == aiconnectors.ProviderOllama {
		return true
	}
	_, ok := aiconnectors.EnvKeys[p]
	return ok
}
