package main

import (
	"os"

	"github.com/eleven-am/see-server/internal/bootstrap"
	cli "github.com/jawher/mow.cli"
)

const (
	appName = "see-server"
	appDesc = "live video relay and vision pipeline for assistive navigation"
)

func main() {
	app := cli.App(appName, appDesc)

	port := app.Int(cli.IntOpt{
		Name:   "p port",
		Desc:   "HTTP listen port",
		EnvVar: "PORT",
		Value:  8080,
	})

	useTURN := app.Bool(cli.BoolOpt{
		Name:   "ts useTurnServers",
		Desc:   "offer TURN servers to peers",
		EnvVar: "USE_TURN_SERVERS",
		Value:  false,
	})

	app.Action = func() {
		bootstrap.Run(bootstrap.Overrides{
			Port:    *port,
			UseTURN: *useTURN,
		})
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
