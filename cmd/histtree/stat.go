package main

import (
	"os"

	"github.com/cloudfoundry/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/histtree/pkg/historytree"
)

var statCmd = &cobra.Command{
	Use:   "stat <file>",
	Short: "Print header fields and node usage statistics for a tree file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stat(args[0])
	},
}

func stat(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	t, err := historytree.Open(path, historytree.Config{ProviderVersion: flagProvider}, log)
	if err != nil {
		return err
	}
	defer t.Dispose()

	usage, err := t.AverageNodeUsage()
	if err != nil {
		return err
	}

	log.Printf("file size:       %s\n", bytefmt.ByteSize(uint64(info.Size())))
	log.Printf("start time:      %d\n", t.GetStartTime())
	log.Printf("end time:        %d\n", t.GetEndTime())
	log.Printf("avg node usage:  %.1f%%\n", usage)
	return nil
}
