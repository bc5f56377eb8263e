package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JervenBolleman/sesame-loader/pkg/format"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"

	// Import all available sinks to register them
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/bigquery"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/file"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/gcs"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/kafka"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/memory"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/mongodb"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/mysql"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/nats"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/postgres"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/redis"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/s3"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/snowflake"
	_ "github.com/JervenBolleman/sesame-loader/pkg/sink/sqlite"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loader",
		Short: "Bulk load RDF statements into a storage backend",
		Long: `loader streams statements parsed from files into a storage backend through
a bounded queue. A configurable number of pushers write to the backend
concurrently, committing every N statements.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "loader v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sinks",
		Short: "List available sinks and input formats",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Sinks:")
			for _, name := range sink.List() {
				info, _ := sink.Lookup(name)
				fmt.Fprintf(out, "  - %-10s %s\n", name, info.Description)
				if len(info.Options) > 0 {
					fmt.Fprintf(out, "      options: %s\n", strings.Join(info.Options, ", "))
				}
			}
			fmt.Fprintln(out, "\nInput Formats:")
			reg := format.Default()
			for _, name := range reg.List() {
				f, _ := reg.Lookup(name)
				fmt.Fprintf(out, "  - %-10s %s\n", name, strings.Join(f.Extensions, " "))
			}
		},
	})

	root.AddCommand(newLoadCmd())
	return root
}
