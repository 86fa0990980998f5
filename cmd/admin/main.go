// Command admin is an operator CLI for rooms: it lists local data, queries a
// running server and reads the event store directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/eventstore"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "health", "room", "profiles", "events":
			getCmd(os.Args[1], os.Args[2:])
			return
		case "submit":
			submitCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "rooms")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		latest := snapshot.Latest(filepath.Join(base, e.Name(), "snapshots"))
		if latest == "" {
			fmt.Printf("%s\t-\n", e.Name())
			continue
		}
		fmt.Printf("%s\t%s\n", e.Name(), filepath.Base(latest))
	}
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dsn := fs.String("dsn", "./data/events.sqlite", "event store dsn (sqlite path or postgres:// url)")
	room := fs.String("room", "lobby", "room id")
	limit := fs.Int("limit", 50, "max events")
	kind := fs.String("type", "", "event type filter")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := eventstore.Open(ctx, *room, *dsn, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer store.Close()

	events, err := store.Recent(ctx, *limit, *kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		_ = enc.Encode(ev)
	}
}
