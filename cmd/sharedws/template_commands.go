package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/sharedws/pkg/template"
)

func createConfigCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	f := &TemplateCreateFlags{}
	gen := template.NewGenerator()
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a starter TOML configuration for the given deployment type.

Examples:
  sharedws config init
  sharedws config init --type=postgres --name=farm --output=/etc/sharedws/sharedws.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateCreate(*f)
		},
	}
	initCmd.Flags().StringVar(&f.Type, "type", string(template.TypeLocal),
		"deployment type ("+strings.Join(gen.GetSupportedTypes(), ", ")+")")
	initCmd.Flags().StringVar(&f.Name, "name", "sharedws", "deployment name used for data file names")
	initCmd.Flags().StringVar(&f.Output, "output", "sharedws.toml", "output file")
	initCmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

// TemplateCreate writes a starter configuration file.
func (c command) TemplateCreate(f TemplateCreateFlags) error {
	outputPath := f.Output
	if outputPath == "" {
		outputPath = "sharedws.toml"
	}
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}

	content, err := template.NewGenerator().GenerateTOML(template.TemplateType(f.Type), f.Name)
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(c.out, "Config '%s' created: %s\n", f.Type, outputPath)
	_, _ = fmt.Fprintf(c.out, "Start the daemon with: sharedws serve %s\n", outputPath)
	return nil
}
