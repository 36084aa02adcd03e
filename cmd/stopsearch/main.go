package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dshills/stopsearch/internal/config"
	"github.com/dshills/stopsearch/internal/logging"
	"github.com/dshills/stopsearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "Stop Search\n")
		fmt.Fprintf(c.App.Writer, "Version: %s\n", version)
		fmt.Fprintf(c.App.Writer, "Build Time: %s\n", buildTime)
		fmt.Fprintf(c.App.Writer, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(c.App.Writer, "SQLite Driver: %s\n", storage.DriverName)
	}

	return &cli.App{
		Name:    "stopsearch",
		Usage:   "Search public-transport stops by name",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"STOPSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides the config file",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the SQLite gazetteer; overrides the config file",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve stop search as MCP tools on stdio",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Listen address for the Prometheus /metrics endpoint (empty disables it)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search stops and print the ranked results",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results (0 uses the configured default)",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Print the full response including the retrieval trace as JSON",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
					&cli.BoolFlag{
						Name:  "no-backoff",
						Usage: "Disable the shortened-query retry",
					},
				},
			},
			{
				Name:   "import",
				Usage:  "Load a GTFS feed and/or an alias file into the gazetteer",
				Action: importCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "gtfs",
						Usage: "Path to a GTFS static zip",
					},
					&cli.StringFlag{
						Name:  "aliases",
						Usage: "Path to a YAML alias file",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of conversion workers (0 uses all CPUs)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of stops per transaction",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "keep-entrances",
						Usage: "Also import entrances, generic nodes and boarding areas",
					},
					&cli.BoolFlag{
						Name:  "reindex",
						Usage: "Only rebuild the search index",
					},
				},
			},
			{
				Name:      "normalize",
				Usage:     "Print the normalized and core forms of a text",
				ArgsUsage: "<text>",
				Action:    normalizeCommand,
			},
			{
				Name:   "migrate",
				Usage:  "Apply or roll back gazetteer schema migrations",
				Action: migrateCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration",
					},
				},
			},
		},
	}
}

// setup loads the configuration and installs the logger. Logs go to stderr;
// stdout carries MCP traffic and command output.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("db") {
		cfg.Database.Path = c.String("db")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := logging.Setup(c.App.ErrWriter, cfg.Logging.Level); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
