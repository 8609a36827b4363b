package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
)

func configCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Secrets are masked unless --reveal is given.",
	}
	cmd.PersistentFlags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")

	// view loads the config file, masking secrets unless asked not to.
	view := func() (*config.Config, error) {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if reveal {
			return cfg, nil
		}
		return config.Sanitize(cfg), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get PATH",
		Short: "Print one value (e.g. answer.topK)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := view()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(val, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set PATH VALUE",
		Short: "Change one value and save (e.g. defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every path and its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := view()
			if err != nil {
				return err
			}
			for _, line := range pathLines(config.ListPaths(cfg)) {
				fmt.Println(line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// pathLines renders ListPaths output as sorted "path = value" lines.
func pathLines(paths map[string]any) []string {
	lines := make([]string, 0, len(paths))
	for path, v := range paths {
		val, err := json.Marshal(v)
		if err != nil {
			val = []byte(fmt.Sprint(v))
		}
		lines = append(lines, path+" = "+string(val))
	}
	sort.Strings(lines)
	return lines
}
