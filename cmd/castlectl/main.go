// Command castlectl is a small CLI for exercising a castle-fs connection:
// get/put/remove a key, or iterate a range, against a real device or an
// in-process FakeEngine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	castle "github.com/castlefs/castle-client"
	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/logging"
)

func main() {
	path := flag.String("path", castle.DefaultControlPath, "control device path")
	collection := flag.Uint("collection", 0, "collection id")
	verbose := flag.Bool("v", false, "verbose logging")
	fake := flag.Bool("fake", false, "run against an in-process fake engine instead of a real device")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]

	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	putCmd := flag.NewFlagSet("put", flag.ExitOnError)
	putValue := putCmd.String("value", "", "value to store")
	removeCmd := flag.NewFlagSet("remove", flag.ExitOnError)
	iterateCmd := flag.NewFlagSet("iterate", flag.ExitOnError)
	iterateEnd := iterateCmd.String("end", "", "comma-separated end key (exclusive); empty means unbounded")
	iterateLimit := iterateCmd.Int("limit", 0, "maximum entries to return; 0 means unbounded")

	logLevel := logging.LevelInfo
	if *verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel, Output: os.Stderr})
	logging.SetDefault(logger)

	conn, teardown, err := connect(*fake, *path, logger)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer teardown()

	coll := uint32(*collection)

	switch sub {
	case "get":
		getCmd.Parse(rest)
		dims := codec.FromStrings(getCmd.Args()...)
		val, err := conn.Get(coll, dims)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get %s: %v\n", castle.KeyString(dims), err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", val)

	case "put":
		putCmd.Parse(rest)
		dims := codec.FromStrings(putCmd.Args()...)
		if err := conn.Replace(coll, dims, []byte(*putValue)); err != nil {
			fmt.Fprintf(os.Stderr, "put %s: %v\n", castle.KeyString(dims), err)
			os.Exit(1)
		}

	case "remove":
		removeCmd.Parse(rest)
		dims := codec.FromStrings(removeCmd.Args()...)
		if err := conn.Remove(coll, dims); err != nil {
			fmt.Fprintf(os.Stderr, "remove %s: %v\n", castle.KeyString(dims), err)
			os.Exit(1)
		}

	case "iterate":
		iterateCmd.Parse(rest)
		start := codec.FromStrings(iterateCmd.Args()...)
		var end []codec.Dimension
		if *iterateEnd != "" {
			end = codec.FromStrings(strings.Split(*iterateEnd, ",")...)
		}
		entries, err := conn.GetSlice(coll, start, end, *iterateLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "iterate: %v\n", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s = %s\n", e.Key, e.Value)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

// connect opens a real castle device, or spins up a FakeEngine when fake
// is set. The returned teardown func always disconnects cleanly.
func connect(fake bool, path string, logger *logging.Logger) (*castle.Connection, func(), error) {
	if fake {
		conn, _, stop, err := castle.NewTestConnection(&castle.ConnectOptions{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return conn, stop, nil
	}

	conn, err := castle.Connect(context.Background(), &castle.ConnectOptions{Path: path, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	teardown := func() { conn.Disconnect(context.Background()) }
	return conn, teardown, nil
}

func printUsage() {
	fmt.Println(`castlectl: exercise a castle-fs connection from the command line

Usage:
  castlectl [-path PATH] [-collection N] [-fake] [-v] <command> [args...]

Commands:
  get <dim...>                 fetch the value stored under a key
  put -value V <dim...>        store a value under a key
  remove <dim...>              delete a key
  iterate [-end DIM,DIM,...] [-limit N] <start-dim...>
                                iterate [start, end), up to limit entries`)
}
