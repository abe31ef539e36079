package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "subcache-demo",
		Short: "Subscription cache demo",
		Long:  "Run watchers against a slow, flaky backend through a subcache.Cache and watch values refresh as rows change",
	}

	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
