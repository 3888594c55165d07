// Command xconform runs the W3C XML standards test catalogs against
// pluggable engines and reports a compliance matrix.
package main

import (
	"os"

	"github.com/roach88/xconform/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
