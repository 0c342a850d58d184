// Package main is the entry point for the pollyauth service.
package main

import (
	"os"

	"github.com/navikt/polly-sub000/cmd/pollyauth/app"
	"github.com/navikt/polly-sub000/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
