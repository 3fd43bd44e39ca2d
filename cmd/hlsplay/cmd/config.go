package cmd

import (
	"encoding"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avalon-stream/hlsplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlsplay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  hlsplay config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .hlsplay/config.yaml, /etc/hlsplay/config.yaml)
  - Environment variables (HLSPLAY_REQUESTER_MAX_ATTEMPTS, HLSPLAY_HTTP_API_PORT, etc.)
  - Command-line flags (for some options)

Environment variables use the HLSPLAY_ prefix and underscores for nesting.
Example: http_api.port -> HLSPLAY_HTTP_API_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, writing time.Duration values in their
// String form and deferring to encoding.TextMarshaler (ByteSize) for the
// other human-readable scalars.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if d, ok := field.Interface().(time.Duration); ok {
			result[key] = d.String()
			continue
		}

		if marshaler, ok := field.Interface().(encoding.TextMarshaler); ok {
			text, err := marshaler.MarshalText()
			if err == nil {
				result[key] = string(text)
				continue
			}
		}

		if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
			continue
		}

		result[key] = field.Interface()
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# hlsplay Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides use the HLSPLAY_ prefix, e.g.:")
	fmt.Println("#   HLSPLAY_REQUESTER_MAX_ATTEMPTS, HLSPLAY_HTTP_API_PORT")
	fmt.Println("#   HLSPLAY_LOGGING_LEVEL, HLSPLAY_LOGGING_FORMAT")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
