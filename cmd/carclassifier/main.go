package main

import (
	"context"
	"os"

	"github.com/Brownie44l1/car-classifier/internal/cli"
)

const version = "0.1.0"

func main() {
	if err := cli.Execute(context.Background(), version); err != nil {
		os.Exit(1)
	}
}
