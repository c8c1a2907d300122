// Package main prints the Chroma stylesheet matching the classes pagefix
// emits when highlighting with --highlighter chroma.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/euforicio/pagefix/internal/highlight"
)

func main() {
	flags := pflag.NewFlagSet("generate-chroma-css", pflag.ExitOnError)
	style := flags.StringP("style", "s", highlight.DefaultStyle, "chroma style name")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "parse flags: %v\n", err)
		os.Exit(1)
	}

	if err := highlight.WriteCSS(os.Stdout, *style); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating CSS: %v\n", err)
		os.Exit(1)
	}
}
