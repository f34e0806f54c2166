package main

import (
	"fmt"

	"github.com/cloudfoundry/bytefmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vorteil/histtree/pkg/htlog"
)

var log htlog.View

// sizeFlag lets --block-size take a human-readable byte size ("128K",
// "1M") the same way the engine reports sizes back in `stat`, instead
// of forcing callers to spell out raw byte counts.
type sizeFlag struct {
	bytes int
}

func (f *sizeFlag) String() string {
	if f.bytes == 0 {
		return "0"
	}
	return bytefmt.ByteSize(uint64(f.bytes))
}

func (f *sizeFlag) Set(s string) error {
	if s == "0" || s == "" {
		f.bytes = 0
		return nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	f.bytes = int(n)
	return nil
}

func (f *sizeFlag) Type() string { return "size" }

var _ pflag.Value = (*sizeFlag)(nil)

var (
	flagVerbose     bool
	flagDebug       bool
	flagBlockSize   = &sizeFlag{}
	flagMaxChildren int
	flagQueueSize   int
	flagProvider    string
	flagForce       bool
)

var rootCmd = &cobra.Command{
	Use:   "histtree",
	Short: "Build and query history-tree state files",
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cli := htlog.NewCLI(flagDebug, flagVerbose)
		logrus.SetFormatter(cli)
		logrus.SetLevel(logrus.TraceLevel)
		log = cli
		return nil
	}

	buildCmd.Flags().Var(flagBlockSize, "block-size", "node block size, e.g. 128K (0: engine default)")
	buildCmd.Flags().IntVar(&flagMaxChildren, "max-children", 0, "core node branching factor (0: engine default)")
	buildCmd.Flags().IntVar(&flagQueueSize, "queue-size", 0, "threaded build queue capacity (0: synchronous writes)")
	buildCmd.Flags().StringVar(&flagProvider, "provider-version", "", "opaque provider version recorded in the header")
	buildCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "overwrite an existing output file")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(exportCmd)
}

func fail(format string, x ...interface{}) error {
	return fmt.Errorf(format, x...)
}
