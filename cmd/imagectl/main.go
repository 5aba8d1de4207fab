package main

import (
	"context"
	"log"
	"os"
)

func main() {
	logger := log.New(os.Stderr, "[imagectl] ", log.Lmsgprefix)
	if err := NewCLI(logger).ExecuteContext(context.Background()); err != nil {
		logger.Println(err)
		os.Exit(1)
	}
}
