// Package main provides the entry point for the clipbridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/clipbridge/cmd/clipbridge/cmd"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, cberrors.FormatForCLI(err))
		os.Exit(1)
	}
}
