package main

import (
	"github.com/coursegraph/backend/internal/server"
	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
