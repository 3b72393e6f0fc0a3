package cmd

import (
	"fmt"
	"io"
)

const banner = `
                         _             _
  _ __   __ _ _ __   ___| | __ _  __ _| |_ ___
 | '_ \ / _` + "`" + ` | '_ \ / _ \ |/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | |_) | (_| | | | |  __/ | (_| | (_| | ||  __/
 | .__/ \__,_|_| |_|\___|_|\__, |\__,_|\__\___|
 |_|                       |___/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  TOTP-gated panel proxy - Version %s\x1b[0m\n\n", Version)
}
