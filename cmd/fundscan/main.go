package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "fundscan"}

	root.AddCommand(serveCMD(), migrateCMD(), batchCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
