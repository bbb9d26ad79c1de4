// Command qbar scans QR codes and barcodes from cameras, image
// directories and files.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/qbar/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
