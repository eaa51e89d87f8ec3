package main

import (
	"log"
	"os"

	"github.com/urfave/cli"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "docstate"
	app.Usage = "Create, sell and purchase documents of the data contracts"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "Path to the YAML configuration file",
			EnvVar: "DOCSTATE_CONFIG",
		},
		cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write transition metrics in Prometheus text format to the file on exit",
		},
	}
	app.Commands = []cli.Command{
		createCommand(),
		fetchCommand(),
		setPriceCommand(),
		purchaseCommand(),
		dumpCommand(),
	}

	return app
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
