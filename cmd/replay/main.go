// Command replay inspects a room's snapshot and event journal offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/log"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/snapshot"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

func main() {
	var (
		roomDir  = flag.String("room_dir", "", "room data dir (data/rooms/<id>)")
		snapPath = flag.String("snapshot", "", "path to .snap.zst (default: latest in room dir)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to print (inclusive, default: snapshot tick + 1)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to print (inclusive, optional)")
		kind     = flag.String("type", "", "only print events of this type")
		quiet    = flag.Bool("quiet", false, "print the summary only")
	)
	flag.Parse()

	if *roomDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -room_dir or -snapshot")
		os.Exit(2)
	}

	present := map[string]string{}
	var startTick uint64

	sp := *snapPath
	if sp == "" {
		sp = snapshot.Latest(filepath.Join(*roomDir, "snapshots"))
	}
	if sp != "" {
		snap, err := snapshot.ReadSnapshot(sp)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d room=%s tick=%d entities=%d\n",
			snap.Header.Version, snap.Header.RoomID, snap.Header.Tick, len(snap.Entities))
		for _, e := range snap.Entities {
			present[e.ID] = e.Origin
		}
		startTick = snap.Header.Tick
	}

	if *roomDir == "" {
		return
	}
	files, err := log.Files(*roomDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}

	from := *fromTick
	if from == 0 {
		from = startTick + 1
	}
	counts := map[string]int{}
	var lastTick uint64
	enc := json.NewEncoder(os.Stdout)

	for _, f := range files {
		entries, err := log.ReadFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
			os.Exit(1)
		}
		for _, e := range entries {
			if e.Tick < from || (*toTick != 0 && e.Tick > *toTick) {
				continue
			}
			lastTick = e.Tick
			for _, ev := range e.Events {
				apply(present, ev)
				counts[string(ev.Type)]++
				if *quiet || (*kind != "" && string(ev.Type) != *kind) {
					continue
				}
				_ = enc.Encode(ev)
			}
		}
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Printf("journal files=%d ticks=%d..%d present=%d\n", len(files), from, lastTick, len(present))
	for _, k := range kinds {
		fmt.Printf("  %-8s %d\n", k, counts[k])
	}
}

func apply(present map[string]string, ev world.Event) {
	switch ev.Type {
	case command.KindJoin:
		present[ev.AgentID] = ev.Origin.String()
	case command.KindLeave:
		delete(present, ev.AgentID)
	}
}
