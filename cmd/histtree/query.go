package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vorteil/histtree/pkg/historytree"
	"github.com/vorteil/histtree/pkg/statehistory"
)

var (
	flagQueryPath string
)

var queryCmd = &cobra.Command{
	Use:   "query <file> <timestamp>",
	Short: "Query a finished history tree file at a timestamp",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(args)
	},
}

func init() {
	queryCmd.Flags().StringVar(&flagQueryPath, "path", "", "restrict the query to a single attribute path")
}

func query(args []string) error {
	t, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fail("bad timestamp %q: %v", args[1], err)
	}

	backend, err := statehistory.OpenFileBackend(args[0], "", historytree.Config{ProviderVersion: flagProvider}, log)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer backend.Dispose()

	blob, err := backend.SupplyAttrTreeReader()
	if err != nil {
		return fmt.Errorf("reading attribute tree: %w", err)
	}
	attrs, err := statehistory.UnmarshalAttributeTree(blob)
	if err != nil {
		return fmt.Errorf("decoding attribute tree: %w", err)
	}

	if flagQueryPath != "" {
		quark, ok := attrs.Lookup(flagQueryPath)
		if !ok {
			return fail("unknown attribute path %q", flagQueryPath)
		}
		iv, ok, err := backend.DoSingularQuery(t, quark)
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("%s: no value at t=%d\n", flagQueryPath, t)
			return nil
		}
		log.Printf("%s = %s [%d, %d]\n", flagQueryPath, iv.Value.String(), iv.Start, iv.End)
		return nil
	}

	result, err := backend.DoQuery(t)
	if err != nil {
		return err
	}
	for quark, iv := range result {
		path, _ := attrs.Path(quark)
		log.Printf("%s = %s [%d, %d]\n", path, iv.Value.String(), iv.Start, iv.End)
	}
	return nil
}
