// roomctl - command line client for the observatory relay
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/observatory/clients/go/observatory"
	"github.com/eldtechnologies/observatory/internal/crypto"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create":
		runCreate(args)
	case "ingest":
		runIngest(args)
	case "tail":
		runTail(args)
	case "config":
		runConfig(args)
	case "health":
		resp, err := observatory.NewClient("", "").Health(context.Background())
		exitOnError(err)
		printJSON(resp)
	case "genkey":
		runGenkey(args)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func runCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	roomID := fs.String("id", "", "room id (2-32 chars, a-z 0-9 -)")
	name := fs.String("name", "", "display name (defaults to id)")
	maxEvents := fs.Int("max-events", 0, "retention cap (0 keeps the server default)")
	agentsFile := fs.String("agents", "", "JSON file with the agent roster")
	key := fs.String("key", os.Getenv("ROOMS_MASTER_KEY"), "master key")
	_ = fs.Parse(args)

	if *roomID == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "Usage: roomctl create -id <room> [-name <name>] [-agents <file>] [-max-events N] [-key <master>]")
		os.Exit(1)
	}

	req := observatory.CreateRoomRequest{RoomID: *roomID, Name: *name, MaxEvents: *maxEvents}
	if *agentsFile != "" {
		data, err := os.ReadFile(*agentsFile)
		exitOnError(err)
		exitOnError(json.Unmarshal(data, &req.Agents))
	}

	resp, err := observatory.NewClient("", *key).CreateRoom(context.Background(), req)
	exitOnError(err)
	fmt.Printf("Created room: %s\n", resp.RoomID)
	fmt.Printf("API key:      %s\n", resp.APIKey)
	fmt.Println("Store the key now; it is not shown again.")
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	roomID := fs.String("room", "", "room id (empty posts to the default room)")
	key := fs.String("key", os.Getenv("OBSERVATORY_ROOM_KEY"), "room key, or bridge key for the default room")
	_ = fs.Parse(args)

	var raw []byte
	var err error
	if fs.NArg() > 0 {
		raw = []byte(fs.Arg(0))
	} else {
		raw, err = io.ReadAll(os.Stdin)
		exitOnError(err)
	}

	var event json.RawMessage
	if err := json.Unmarshal(raw, &event); err != nil {
		exitOnError(fmt.Errorf("event is not valid JSON: %w", err))
	}

	resp, err := observatory.NewClient("", *key).Ingest(context.Background(), *roomID, event)
	exitOnError(err)
	printJSON(resp)
}

func runTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	roomID := fs.String("room", "", "room id (empty reads the default room)")
	since := fs.Int64("since", 0, "start at this ts (Unix ms)")
	interval := fs.Duration("interval", 2*time.Second, "poll interval")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tail := observatory.NewTailer(observatory.NewClient("", ""), *roomID, *since)
	tail.Interval = *interval

	err := tail.Run(ctx, func(ev observatory.Event) {
		ts := time.UnixMilli(ev.TS).Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %s\n", ts, string(ev.Raw))
	}, func(err error) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	})
	if err != nil && ctx.Err() == nil {
		exitOnError(err)
	}
}

func runConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: roomctl config <room>")
		os.Exit(1)
	}
	resp, err := observatory.NewClient("", "").RoomConfig(context.Background(), args[0])
	exitOnError(err)
	printJSON(resp)
}

func runGenkey(args []string) {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	n := fs.Int("bytes", 32, "random bytes in the key")
	_ = fs.Parse(args)

	if *n < 16 {
		fmt.Fprintln(os.Stderr, "Error: -bytes must be at least 16")
		os.Exit(1)
	}
	fmt.Println(crypto.RandomHex(*n))
}

func usage() {
	fmt.Println(`roomctl - observatory room relay CLI

Usage: roomctl <command> [options]

Commands:
  create -id <room> [-name] [-agents file] [-max-events N]   Create a room (master key)
  ingest [-room <room>] [-key <key>] [json]                  Post an event (stdin if no arg)
  tail [-room <room>] [-since ts] [-interval 2s]             Follow a room's events
  config <room>                                              Show a room's public config
  health                                                     Check server health
  genkey [-bytes 32]                                         Generate a master or bridge key

Environment:
  OBSERVATORY_URL        Server URL (default: http://localhost:8080)
  ROOMS_MASTER_KEY       Master key for create
  OBSERVATORY_ROOM_KEY   Key for ingest`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
