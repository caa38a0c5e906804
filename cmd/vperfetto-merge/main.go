// Command vperfetto-merge combines a guest trace and a host trace into one
// Perfetto trace.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/infrastructure/metrics"
	"github.com/741g/vperfetto/internal/infrastructure/sqlite"
	"github.com/joho/godotenv"
)

const usage = "usage: vperfetto-merge <guestTraceFile> <hostTraceFile> <combinedTraceFile>" +
	" [<guestClockBootTimeNsWhenHostTracingStarted>]" +
	" [--guest-tsc-offset <n>] [--merge-guest-into-host] [--add-traces] [--ledger <sqlite path>]"

type options struct {
	req    domain.MergeRequest
	ledger string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n%s\n", err, usage)
		return 1
	}

	log.Printf("guest trace file: %s", opts.req.GuestFile)
	log.Printf("host trace file: %s", opts.req.HostFile)
	log.Printf("combined trace file: %s", opts.req.CombinedFile)
	if opts.req.GuestBootTimeNs == nil {
		log.Println("will derive guest clock boot time and time diff")
	}

	deps := merge.ServiceDeps{}
	if opts.ledger != "" {
		l, err := sqlite.Open(opts.ledger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open ledger: %v\n", err)
			return 1
		}
		defer l.Close()
		deps.Ledger = l
	}
	m := metrics.FromConfig(config.Load().Metrics)
	deps.Recorder = m

	rec, err := merge.NewService(deps).CombineFiles(context.Background(), opts.req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := m.Push(context.Background()); err != nil {
		log.Printf("WARN: %v", err)
	}
	log.Printf("merge %s done: %d bytes, time diff %d ns (%s)", rec.MergeID, rec.CombinedBytes, rec.TimeDiffNs, rec.TimeDiffMode)
	return 0
}

// parseArgs reads three positional file names followed by flags and an
// optional guest boot time, in any order.
func parseArgs(args []string) (options, error) {
	var opts options
	if len(args) < 3 {
		return opts, errors.New("missing trace file arguments")
	}
	opts.req = domain.MergeRequest{
		GuestFile:    args[0],
		HostFile:     args[1],
		CombinedFile: args[2],
		Source:       domain.MergeSourceCLI,
	}
	for i := 3; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--guest-tsc-offset":
			i++
			if i >= len(args) {
				return opts, errors.New("missing value after --guest-tsc-offset")
			}
			n, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil {
				return opts, fmt.Errorf("parse guest-tsc-offset %q: %w", args[i], err)
			}
			opts.req.GuestTSCOffset = n
		case "--merge-guest-into-host":
			opts.req.MergeGuestIntoHost = true
		case "--add-traces":
			opts.req.AddTraces = true
		case "--ledger":
			i++
			if i >= len(args) {
				return opts, errors.New("missing value after --ledger")
			}
			opts.ledger = args[i]
		default:
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return opts, fmt.Errorf("parse guest clock boot time ns %q: %w", arg, err)
			}
			opts.req.GuestBootTimeNs = &n
		}
	}
	return opts, nil
}
