// portalctl is the operator tool for the citizen portal: it mints and
// inspects tracking tokens, previews the slot grid and hashes staff passwords.
package main

import (
	"os"

	"github.com/diagnosis/citizen-portal/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Error("portalctl failed", "error", err)
		os.Exit(1)
	}
}
