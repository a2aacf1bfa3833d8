package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/app"
)

func main() {
	application, err := app.NewFromEnv(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	lambda.Start(application.HandleRequest)
}
