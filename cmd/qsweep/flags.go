package main

import "github.com/urfave/cli/v3"

var (
	modelRef   string
	modelsPath string
	hubURL     string
	dataDir    string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "checkpoint name, directory, or .safetensors file",
			Destination: &modelRef,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing cached checkpoints",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "hub-url",
			Usage:       "base URL for fetching missing checkpoints",
			Destination: &hubURL,
		},
	}
}

func commonDataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "directory containing dataset files",
			Destination: &dataDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
