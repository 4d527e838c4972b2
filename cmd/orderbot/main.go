// Command orderbot manages work orders mirrored to a Telegram channel.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/PengC8899/didi-bot/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands report their own errors; flag and argument errors from
	// cobra are printed here.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
