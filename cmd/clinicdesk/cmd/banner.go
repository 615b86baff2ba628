package cmd

import (
	"fmt"
	"io"
)

const banner = `
       _ _       _          _           _
   ___| (_)_ __ (_) ___  __| | ___  ___| | __
  / __| | | '_ \| |/ __|/ _` + "`" + ` |/ _ \/ __| |/ /
 | (__| | | | | | | (__| (_| |  __/\__ \   <
  \___|_|_|_| |_|_|\___|\__,_|\___||___/_|\_\
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Clinic Desk - Version %s\x1b[0m\n\n", version())
}
