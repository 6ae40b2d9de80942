// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command nudb is a small administrative tool for NuDB databases: it
// inspects, recovers, rekeys, and verifies the three files a database
// is made of. It intentionally has no dependencies beyond the
// standard library and this module.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/nudb-go/nudb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage()
		return
	case "info":
		err = runInfo(os.Args[2:])
	case "recover":
		err = runRecover(os.Args[2:])
	case "rekey":
		err = runRekey(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "visit":
		err = runVisit(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "nudb: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nudb: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: nudb <command> [arguments]

commands:
  info <dat> <key>                       print a fast verification report for a database
  recover <dat> <key> <log>              replay a crash log and restore consistency
  rekey <dat> <key> <log> --block-size=N --load-factor=N --salt=N
                                          rebuild the key file from the data file
  verify <dat> <key> [--fast] [--buffer=N]
                                          check index consistency and print a report
  visit <dat>                            dump every record in a data file, in append order`)
}

func runInfo(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("info requires <dat> <key>")
	}
	rep, err := nudb.Verify(args[0], args[1], nudb.VerifyFast, nudb.DefaultOptions())
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func runRecover(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("recover requires <dat> <key> <log>")
	}
	return nudb.Recover(args[0], args[1], args[2], nudb.DefaultOptions())
}

func runRekey(args []string) error {
	fs := flag.NewFlagSet("rekey", flag.ExitOnError)
	blockSize := fs.Int("block-size", 4096, "bucket block size in bytes")
	loadFactor := fs.Int("load-factor", nudb.DefaultLoadFactor, "target load factor, 1-100")
	salt := fs.Uint64("salt", 0, "salt for the rebuilt table (0 picks a random one)")
	// Flags are accepted before or after the positional arguments.
	var flagArgs, rest []string
	for _, a := range args {
		if len(a) > 1 && a[0] == '-' {
			flagArgs = append(flagArgs, a)
		} else {
			rest = append(rest, a)
		}
	}
	if err := fs.Parse(flagArgs); err != nil {
		return err
	}
	rest = append(rest, fs.Args()...)
	if len(rest) != 3 {
		return fmt.Errorf("rekey requires <dat> <key> <log>")
	}

	saltVal := *salt
	if saltVal == 0 {
		var err error
		saltVal, err = randomSalt()
		if err != nil {
			return err
		}
	}

	progress := func(done, total uint64) {
		if total == 0 || done%10000 != 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "\rrekey: %d/%d", done, total)
	}
	err := nudb.Rekey(rest[0], rest[1], rest[2], *blockSize, *loadFactor, saltVal, nudb.DefaultOptions(), progress)
	fmt.Fprintln(os.Stderr)
	return err
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fast := fs.Bool("fast", false, "skip the full data-file cross-check")
	buffer := fs.Int("buffer", 0, "bulk I/O buffer size in bytes (0 = default)")
	// Flags are accepted before or after the positional arguments.
	var flagArgs, rest []string
	for _, a := range args {
		if len(a) > 1 && a[0] == '-' {
			flagArgs = append(flagArgs, a)
		} else {
			rest = append(rest, a)
		}
	}
	if err := fs.Parse(flagArgs); err != nil {
		return err
	}
	rest = append(rest, fs.Args()...)
	if len(rest) != 2 {
		return fmt.Errorf("verify requires <dat> <key>")
	}

	opts := nudb.DefaultOptions()
	if *buffer > 0 {
		opts.BulkBufferSize = *buffer
	}
	mode := nudb.VerifySlow
	if *fast {
		mode = nudb.VerifyFast
	}

	rep, err := nudb.Verify(rest[0], rest[1], mode, opts)
	if err != nil {
		return err
	}
	printReport(rep)
	return nil
}

func runVisit(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("visit requires <dat>")
	}
	return nudb.Visit(args[0], nudb.DefaultOptions(), func(r nudb.VisitedRecord) error {
		if r.Spill {
			fmt.Printf("%10d  spill   block=%d bytes\n", r.Offset, len(r.Block))
			return nil
		}
		fmt.Printf("%10d  data    key=%x value=%d bytes\n", r.Offset, r.Key, len(r.Value))
		return nil
	})
}

func printReport(rep nudb.Report) {
	fmt.Printf("key_count:          %d\n", rep.KeyCount)
	fmt.Printf("value_bytes:        %d\n", rep.ValueBytes)
	fmt.Printf("spill_count:        %d\n", rep.SpillCount)
	fmt.Printf("spill_bytes:        %d\n", rep.SpillBytes)
	fmt.Printf("key_file_size:      %d\n", rep.KeyFileSize)
	fmt.Printf("dat_file_size:      %d\n", rep.DatFileSize)
	fmt.Printf("overhead_bytes:     %d\n", rep.OverheadBytes)
	fmt.Printf("average_fetch_len:  %.3f\n", rep.AverageFetchLen)
	fmt.Printf("actual_load_factor: %.3f\n", rep.ActualLoadFactor)
	if len(rep.ValueSizeHistogram) > 0 {
		fmt.Println("value_size_histogram (log2 bucket -> count):")
		for i := 0; i < 64; i++ {
			if c, ok := rep.ValueSizeHistogram[i]; ok {
				fmt.Printf("  2^%-3d %s%d\n", i, "", c)
			}
		}
	}
}

func randomSalt() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
