package main

import (
	"context"
	"log"

	"github.com/vkushnir/filevault/internal/server"
	"github.com/vkushnir/filevault/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
