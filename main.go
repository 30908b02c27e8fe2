package main

import (
	"context"
	"os"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/cli"
	"github.com/labstack/gommon/log"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
