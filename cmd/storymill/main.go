package main

import (
	"storymill/cmd/handlers"
	"storymill/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
