// Package main provides a one-shot utility for identity token key
// generation.
//
// It emits the asymmetric keypair the access transport uses to verify
// identity tokens.
package main

import (
	"os"

	"github.com/louisbranch/gathering.space/internal/platform/config"
	"github.com/louisbranch/gathering.space/internal/tools/identitykey"
)

func main() {
	if err := identitykey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate identity key: %v", err)
	}
}
