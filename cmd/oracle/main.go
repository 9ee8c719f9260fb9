package main

import (
	"log"
	"os"

	"github.com/ruteri/attested-randomness/cmd/flags"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "oracle",
		Usage: "Attested entropy service for randomness functions",
		Flags: append([]cli.Flag{flags.LogServiceFlagFn("oracle")}, flags.LogFlags...),
		Commands: []*cli.Command{
			createFunctionCommand,
			splitKeyCommand,
			submitShareCommand,
			registerCommand,
			runCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
