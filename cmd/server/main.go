// Command server runs the portal API over plain HTTP for local development.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/app"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	envFile := flag.String("env", ".env", "dotenv file to load if present")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("failed to load %s", *envFile)
	}
	// The local server has no CloudFront in front of it.
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}

	application, err := app.NewFromEnv(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}

	log.WithField("addr", *addr).Info("starting local server")
	if err := application.Router().Run(*addr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
