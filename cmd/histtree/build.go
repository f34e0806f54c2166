package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vorteil/histtree/pkg/historytree"
	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/statehistory"
)

var flagSSID string

var buildCmd = &cobra.Command{
	Use:   "build <output-file> [input-file]",
	Short: "Build a history tree file from a tab-separated interval stream",
	Long: `Build reads lines of "path<TAB>start<TAB>end<TAB>kind<TAB>value" from
the input file (or stdin) and inserts one interval per line, assigning each
distinct attribute path a quark the first time it is seen.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return build(args)
	},
}

func init() {
	buildCmd.Flags().StringVar(&flagSSID, "ssid", "", "state-system identifier (random uuid if unset)")
}

func build(args []string) error {
	out := args[0]
	if !flagForce {
		if _, err := os.Stat(out); err == nil {
			return fail("output file %s already exists (use -f to overwrite)", out)
		}
	}

	in := os.Stdin
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[1], err)
		}
		defer f.Close()
		in = f
	}

	ssid := flagSSID
	if ssid == "" {
		ssid = uuid.New().String()
		log.Infof("--ssid not set, using generated id %s", ssid)
	}

	cfg := historytree.Config{
		BlockSize:       flagBlockSize.bytes,
		MaxChildren:     flagMaxChildren,
		ProviderVersion: flagProvider,
		QueueSize:       flagQueueSize,
	}

	_ = os.Remove(out)
	backend, err := statehistory.NewFileBackend(out, ssid, cfg, log)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}

	attrs := statehistory.NewAttributeTree()

	count, maxEnd, err := ingest(in, backend, attrs)
	if err != nil {
		_ = backend.Dispose()
		return err
	}

	blob, err := attrs.MarshalBinary()
	if err != nil {
		_ = backend.Dispose()
		return err
	}
	if err := backend.SupplyAttrTreeWriter(blob); err != nil {
		_ = backend.Dispose()
		return err
	}

	if err := backend.FinishBuilding(maxEnd); err != nil {
		return fmt.Errorf("finishing build: %w", err)
	}

	attrCount := 0
	for {
		if _, ok := attrs.Path(int32(attrCount)); !ok {
			break
		}
		attrCount++
	}
	log.Printf("wrote %d intervals across %d attributes to %s\n", count, attrCount, out)
	return nil
}

func ingest(r io.Reader, backend *statehistory.FileBackend, attrs *statehistory.AttributeTree) (int, int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	progress := log.NewProgress("ingesting", "intervals", 0)
	defer func() { progress.Finish(true) }()

	var count int
	var maxEnd int64
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			return count, maxEnd, fail("line %d: expected 5 tab-separated fields, got %d", lineNo, len(fields))
		}
		path, startS, endS, kind, raw := fields[0], fields[1], fields[2], fields[3], fields[4]
		start, err := strconv.ParseInt(startS, 10, 64)
		if err != nil {
			return count, maxEnd, fail("line %d: bad start time %q: %v", lineNo, startS, err)
		}
		end, err := strconv.ParseInt(endS, 10, 64)
		if err != nil {
			return count, maxEnd, fail("line %d: bad end time %q: %v", lineNo, endS, err)
		}
		v, err := parseValue(kind, raw)
		if err != nil {
			return count, maxEnd, fail("line %d: %v", lineNo, err)
		}

		quark := attrs.Insert(path)
		if err := backend.InsertPastState(start, end, quark, v); err != nil {
			return count, maxEnd, fail("line %d: inserting interval for %q: %v", lineNo, path, err)
		}
		if end > maxEnd {
			maxEnd = end
		}
		count++
		progress.Increment(1)
	}
	if err := scanner.Err(); err != nil {
		return count, maxEnd, fmt.Errorf("reading input: %w", err)
	}
	return count, maxEnd, nil
}

func parseValue(kind, raw string) (htinterval.Value, error) {
	switch strings.ToLower(kind) {
	case "null":
		return htinterval.NullValue(), nil
	case "int", "integer":
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return htinterval.Value{}, fmt.Errorf("bad int value %q: %w", raw, err)
		}
		return htinterval.IntValue(int32(n)), nil
	case "long":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return htinterval.Value{}, fmt.Errorf("bad long value %q: %w", raw, err)
		}
		return htinterval.LongValue(n), nil
	case "double":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return htinterval.Value{}, fmt.Errorf("bad double value %q: %w", raw, err)
		}
		return htinterval.DoubleValue(f), nil
	case "bool", "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return htinterval.Value{}, fmt.Errorf("bad boolean value %q: %w", raw, err)
		}
		return htinterval.BoolValue(b), nil
	case "string":
		return htinterval.StringValue(raw), nil
	default:
		return htinterval.Value{}, fmt.Errorf("unrecognized value kind %q", kind)
	}
}
