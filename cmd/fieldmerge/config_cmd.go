package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/untoldecay/fieldmerge/internal/config"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print effective settings as YAML (secrets redacted)",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		settings := config.Redacted()
		if jsonOutput {
			outputJSON(settings)
			return
		}
		if file := config.ConfigFileUsed(); file != "" {
			fmt.Printf("# config file: %s\n", file)
		} else {
			fmt.Println("# no config file found; defaults and environment only")
		}
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(settings); err != nil {
			FatalError("encoding YAML: %v", err)
		}
		_ = encoder.Close()
	},
}

var configSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show where each setting comes from",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		keys := settingKeys(config.AllSettings(), "")
		slices.Sort(keys)
		sources := make(map[string]config.ConfigSource, len(keys))
		for _, k := range keys {
			sources[k] = config.GetValueSource(k)
		}
		if jsonOutput {
			outputJSON(sources)
			return
		}
		for _, k := range keys {
			fmt.Printf("%-28s %s\n", k, sources[k])
		}
	},
}

// settingKeys flattens nested settings into dotted keys.
func settingKeys(settings map[string]any, prefix string) []string {
	var keys []string
	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			keys = append(keys, settingKeys(nested, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func init() {
	configCmd.AddCommand(configShowCmd, configSourcesCmd)
	rootCmd.AddCommand(configCmd)
}
