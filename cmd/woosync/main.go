package main

import (
	"context"
	"fmt"
	"os"

	"github.com/erp/woosync/internal/interfaces/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmd := cli.NewRootCommand(version)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "woosync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
