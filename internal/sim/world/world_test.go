package world

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

func TestWorld_JoinMoveObserve(t *testing.T) {
	h := newHarness(t, Config{ID: "lobby"}, Deps{})
	h.enqueue(command.NewJoin("agent-1", command.Join{Name: "One"}))
	h.enqueue(command.NewPosition("agent-1", 10, 0, 5, 0))
	h.step()

	c := h.connect()
	_ = h.w.Clients().RequestSnapshot(c)
	h.step()

	fs := fulls(c.take())
	if len(fs) != 1 {
		t.Fatalf("got %d full snapshots, want 1", len(fs))
	}
	e, ok := findEntity(fs[0].Entities, "agent-1")
	if !ok {
		t.Fatalf("agent-1 missing from snapshot: %+v", fs[0].Entities)
	}
	if e.X != 10 || e.Y != 0 || e.Z != 5 {
		t.Fatalf("agent-1 at (%v,%v,%v), want (10,0,5)", e.X, e.Y, e.Z)
	}
	if got := h.w.Health(); got.Entities != 1 || got.Sessions != 1 || got.Tick != 2 {
		t.Fatalf("health = %+v", got)
	}
}

func TestWorld_LeaveRemovesEntityAndIndex(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	h.enqueue(command.NewJoin("a", command.Join{}))
	h.step()
	h.enqueue(command.NewPosition("a", 3, 0, 3, 0))
	h.enqueue(command.NewAction("a", command.ActionWave, ""))
	h.step()
	h.enqueue(command.NewChat("a", "bye"))
	h.enqueue(command.NewEmote("a", command.EmoteHappy))
	h.step()
	h.enqueue(command.NewLeave("a"))
	h.step()

	if h.w.state.Get("a") != nil {
		t.Fatalf("entity still in state after leave")
	}
	for i := 0; i < 3; i++ {
		if ids := h.w.grid.Query(0, 0, 1000); len(ids) != 0 {
			t.Fatalf("index still returns %v", ids)
		}
		h.step()
	}
	if _, ok := h.w.Profile("a"); ok {
		t.Fatalf("published profile survived leave")
	}
}

func TestWorld_SubscribeTwiceYieldsTwoSnapshots(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	h.enqueue(command.NewJoin("a", command.Join{}))
	c := h.connect()
	h.step()
	if got := len(fulls(c.take())); got != 1 {
		t.Fatalf("initial snapshots = %d, want 1", got)
	}

	m := h.w.Clients()
	_ = m.RequestSnapshot(c)
	_ = m.RequestSnapshot(c)
	for i := 0; i < 4; i++ {
		h.step()
	}
	msgs := c.take()
	if len(fulls(msgs)) != 2 || len(deltas(msgs)) != 0 {
		t.Fatalf("got %d full / %d delta, want 2 full / 0 delta", len(fulls(msgs)), len(deltas(msgs)))
	}
}

func TestWorld_AOIFiltersSnapshotAndDelta(t *testing.T) {
	h := newHarness(t, Config{AOIRadius: 40}, Deps{})
	h.enqueue(command.NewJoin("near", command.Join{Spawn: &command.Vec3{X: 39}}))
	h.enqueue(command.NewJoin("far", command.Join{Spawn: &command.Vec3{X: 41}}))
	c := h.connect()
	_ = h.w.Clients().SetViewport(c, 0, 0)
	h.step()

	fs := fulls(c.take())
	if len(fs) != 1 {
		t.Fatalf("snapshots = %d", len(fs))
	}
	if _, ok := findEntity(fs[0].Entities, "near"); !ok {
		t.Fatalf("entity at R-1 missing")
	}
	if _, ok := findEntity(fs[0].Entities, "far"); ok {
		t.Fatalf("entity at R+1 leaked into snapshot")
	}

	h.enqueue(command.NewPosition("far", 45, 0, 0, 0))
	h.enqueue(command.NewChat("far", "can you hear me"))
	h.step()
	if msgs := c.take(); len(msgs) != 0 {
		t.Fatalf("out-of-range change produced %d messages", len(msgs))
	}

	h.enqueue(command.NewPosition("near", 0, 0, 41, 0))
	h.enqueue(command.NewPosition("far", 0, 0, -39, 0))
	h.step()
	ds := deltas(c.take())
	if len(ds) != 1 {
		t.Fatalf("deltas = %d, want 1", len(ds))
	}
	if len(ds[0].Removed) != 1 || ds[0].Removed[0] != "near" {
		t.Fatalf("removed = %v, want [near]", ds[0].Removed)
	}
	if _, ok := findEntity(ds[0].Entities, "far"); !ok || len(ds[0].Entities) != 1 {
		t.Fatalf("entities = %+v, want only far", ds[0].Entities)
	}
}

func TestWorld_HugeViewportDoesNotStallTick(t *testing.T) {
	h := newHarness(t, Config{HalfExtent: 50}, Deps{})
	h.enqueue(command.NewJoin("edge", command.Join{Spawn: &command.Vec3{X: 50}}))
	c := h.connect()
	_ = h.w.Clients().SetViewport(c, 21474836435, 0)

	now := h.clk.now()
	done := make(chan []any, 1)
	go func() {
		h.w.StepOnce(now)
		done <- c.take()
	}()
	select {
	case msgs := <-done:
		fs := fulls(msgs)
		if len(fs) != 1 {
			t.Fatalf("snapshots = %d, want 1", len(fs))
		}
		if _, ok := findEntity(fs[0].Entities, "edge"); !ok {
			t.Fatalf("viewport clamped to the room edge should see the edge entity")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tick never completed after an out-of-room viewport")
	}
}

func TestWorld_FollowTargetCentersInterest(t *testing.T) {
	h := newHarness(t, Config{AOIRadius: 10}, Deps{})
	h.enqueue(command.NewJoin("leader", command.Join{Spawn: &command.Vec3{X: 30, Z: 30}}))
	h.enqueue(command.NewJoin("buddy", command.Join{Spawn: &command.Vec3{X: 35, Z: 30}}))
	h.enqueue(command.NewJoin("origin", command.Join{}))
	c := h.connect()
	_ = h.w.Clients().SetViewport(c, 0, 0)
	_ = h.w.Clients().SetFollowEntity(c, "leader")
	h.step()

	fs := fulls(c.take())
	if len(fs) != 1 || len(fs[0].Entities) != 2 {
		t.Fatalf("snapshot = %+v", fs)
	}
	if _, ok := findEntity(fs[0].Entities, "origin"); ok {
		t.Fatalf("viewport should be overridden by follow target")
	}
}

func TestWorld_SameTickLastWriterWins(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	h.enqueue(command.NewJoin("a", command.Join{}))
	h.step()
	h.enqueue(command.NewPosition("a", 1, 0, 1, 0))
	h.enqueue(command.NewPosition("a", 2, 0, 2, 0))
	h.enqueue(command.NewAction("a", command.ActionDance, ""))
	h.enqueue(command.NewAction("a", command.ActionSpin, ""))
	h.step()
	e := h.w.state.Get("a")
	if e.X != 2 || e.Z != 2 || e.Action != command.ActionSpin {
		t.Fatalf("entity = %+v, want later commands to win", e)
	}
}

func TestWorld_DisconnectCleanup(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	c := h.connect()
	h.enqueue(command.NewJoin("player-7", command.Join{Name: "Seven"}))
	if err := h.w.Clients().BindControlledEntity(c, "player-7"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	h.step()

	h.w.Clients().RemoveConnection(c)
	h.step()

	if h.w.state.Get("player-7") != nil {
		t.Fatalf("player-7 still present after disconnect")
	}
	var found bool
	for _, ev := range h.w.state.Log().Events() {
		if ev.Type == command.KindLeave && ev.AgentID == "player-7" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no leave event for player-7 in %+v", h.w.state.Log().Events())
	}
}

func TestWorld_LeaveFromElsewhereReleasesConnection(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	c := h.connect()
	if err := h.w.Clients().BindControlledEntity(c, "player-3"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	h.enqueue(command.NewJoin("player-3", command.Join{}))
	h.step()
	h.enqueue(command.NewLeave("player-3"))
	h.step()
	if id, ok := h.w.Clients().ControlledEntity(c); ok {
		t.Fatalf("connection still bound to %s after leave", id)
	}
	if err := h.w.Clients().BindControlledEntity(c, "player-4"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
}

func TestWorld_SendFailureDropsOnlyThatConnection(t *testing.T) {
	h := newHarness(t, Config{}, Deps{})
	bad := h.connect()
	good := h.connect()
	h.enqueue(command.NewJoin("player-3", command.Join{}))
	_ = h.w.Clients().BindControlledEntity(bad, "player-3")
	bad.fail = true
	h.step()

	if !bad.closed {
		t.Fatalf("failing connection not closed")
	}
	if h.w.Clients().Size() != 1 {
		t.Fatalf("sessions = %d, want 1", h.w.Clients().Size())
	}
	if got := len(fulls(good.take())); got != 1 {
		t.Fatalf("healthy connection got %d snapshots", got)
	}

	h.step()
	if h.w.state.Get("player-3") != nil {
		t.Fatalf("controlled entity survived its connection")
	}
	ds := deltas(good.take())
	if len(ds) != 1 || len(ds[0].Removed) != 1 || ds[0].Removed[0] != "player-3" {
		t.Fatalf("healthy connection deltas = %+v", ds)
	}
	if m := h.w.Metrics(); m.SendFailures != 1 {
		t.Fatalf("send failures = %d", m.SendFailures)
	}
}

type upperFilter struct{}

func (upperFilter) Filter(s string) string        { return strings.ToUpper(s) }
func (upperFilter) RedactSecrets(s string) string { return strings.ReplaceAll(s, "SECRET", "[redacted]") }

func TestWorld_ChatFilteredAndBroadcast(t *testing.T) {
	h := newHarness(t, Config{}, Deps{Filter: upperFilter{}})
	h.enqueue(command.NewJoin("a", command.Join{}))
	c := h.connect()
	h.step()
	c.take()

	h.enqueue(command.NewChat("a", "my secret plan"))
	h.step()
	ds := deltas(c.take())
	if len(ds) != 1 || len(ds[0].Events) != 1 {
		t.Fatalf("deltas = %+v", ds)
	}
	if got := ds[0].Events[0].Text; got != "MY [redacted] PLAN" {
		t.Fatalf("chat text = %q", got)
	}
	if e, _ := findEntity(ds[0].Entities, "a"); e.Chat != "MY [redacted] PLAN" {
		t.Fatalf("entity chat = %q", e.Chat)
	}
}

type mapRegistry map[string]Profile

func (r mapRegistry) Lookup(id string) (Profile, bool) {
	p, ok := r[id]
	return p, ok
}

func TestWorld_RegistryIsAuthoritativeAtJoin(t *testing.T) {
	reg := mapRegistry{"agent-9": {Name: "Registered", Color: "#00ff00", Skills: []command.Skill{{ID: "scout", Name: "Scout"}}}}
	h := newHarness(t, Config{}, Deps{Registry: reg})
	h.enqueue(command.NewJoin("agent-9", command.Join{Name: "claimed", Color: "#ff0000"}))
	h.enqueue(command.NewJoin("anon", command.Join{}))
	h.step()

	p, ok := h.w.Profile("agent-9")
	if !ok || p.Name != "Registered" || p.Color != "#00ff00" || len(p.Skills) != 1 {
		t.Fatalf("profile = %+v", p)
	}
	if p, _ := h.w.Profile("anon"); p.Name != "anon" {
		t.Fatalf("anonymous name = %q, want id fallback", p.Name)
	}
	if got := len(h.w.Profiles()); got != 2 {
		t.Fatalf("profiles = %d", got)
	}
}

func TestWorld_SinksSeeProvenance(t *testing.T) {
	sink := &sinkRecorder{}
	h := newHarness(t, Config{}, Deps{Sinks: []EventSink{sink}})
	local := command.NewJoin("here", command.Join{})
	remote := command.NewJoin("there", command.Join{})
	remote.Origin = command.Remote
	h.enqueue(local)
	h.enqueue(remote)
	h.step()
	h.step()

	if len(sink.ticks) != 1 || sink.ticks[0] != 1 {
		t.Fatalf("sink ticks = %v, want [1]", sink.ticks)
	}
	if len(sink.events) != 2 || sink.events[0].Origin != command.Local || sink.events[1].Origin != command.Remote {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestWorld_EventLogRetention(t *testing.T) {
	h := newHarness(t, Config{EventRetention: 5}, Deps{})
	h.enqueue(command.NewJoin("a", command.Join{}))
	for i := 0; i < 9; i++ {
		h.enqueue(command.NewEmote("a", command.EmoteLaugh))
	}
	h.step()
	evs := h.w.state.Log().Events()
	if len(evs) != 5 {
		t.Fatalf("log len = %d, want 5", len(evs))
	}
	for _, ev := range evs {
		if ev.Type != command.KindEmote {
			t.Fatalf("oldest event not evicted: %+v", ev)
		}
	}
	if got := h.w.RecentEvents(2, command.KindEmote); len(got) != 2 {
		t.Fatalf("recent = %d", len(got))
	}
}

type panicRegistry struct{}

func (panicRegistry) Lookup(string) (Profile, bool) { panic("registry exploded") }

func TestWorld_MutationPanicIsFatal(t *testing.T) {
	h := newHarness(t, Config{}, Deps{Registry: panicRegistry{}})
	h.enqueue(command.NewJoin("a", command.Join{}))
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic to propagate")
		}
		if !strings.Contains(r.(string), "registry exploded") {
			t.Fatalf("panic = %v", r)
		}
	}()
	h.step()
}

func TestWorld_SnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, Config{ID: "lobby"}, Deps{})
	h.enqueue(command.NewJoin("a", command.Join{Name: "Ay", Skills: []command.Skill{{ID: "x", Name: "X"}}}))
	r := command.NewJoin("r", command.Join{})
	r.Origin = command.Remote
	h.enqueue(r)
	h.step()
	h.enqueue(command.NewPosition("a", 7, 1, -3, 0.5))
	h.step()
	snap := h.w.ExportSnapshot(h.clk.now())

	h2 := newHarness(t, Config{ID: "lobby"}, Deps{})
	if err := h2.w.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if h2.w.CurrentTick() != 2 {
		t.Fatalf("tick = %d, want 2", h2.w.CurrentTick())
	}
	e := h2.w.state.Get("a")
	if e == nil || e.X != 7 || e.Y != 1 || e.Z != -3 || e.Name != "Ay" || len(e.Skills) != 1 {
		t.Fatalf("restored = %+v", e)
	}
	if h2.w.state.Get("r") != nil {
		t.Fatalf("remote entity restored")
	}
	if !h2.w.Queue().Known("a") {
		t.Fatalf("queue roster not seeded")
	}
	if ids := h2.w.grid.Query(7, -3, 1); len(ids) != 1 {
		t.Fatalf("grid not seeded: %v", ids)
	}
	if err := newHarness(t, Config{ID: "other"}, Deps{}).w.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected room mismatch error")
	}
}

func TestWorld_ResumeDropsConnectionAvatars(t *testing.T) {
	h := newHarness(t, Config{ID: "lobby"}, Deps{})
	c := h.connect()
	if err := h.w.Clients().BindControlledEntity(c, "player-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	h.enqueue(command.NewJoin("player-1", command.Join{Name: "Ada"}))
	h.enqueue(command.NewJoin("agent-1", command.Join{Name: "Bot"}))
	h.step()
	snap := h.w.ExportSnapshot(h.clk.now())

	h2 := newHarness(t, Config{ID: "lobby"}, Deps{})
	if err := h2.w.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	for i := 0; i < 5; i++ {
		h2.step()
	}
	if h2.w.state.Get("player-1") != nil || h2.w.Queue().Known("player-1") {
		t.Fatalf("connection avatar player-1 survived the restart")
	}
	if h2.w.state.Get("agent-1") == nil {
		t.Fatalf("uncontrolled agent-1 not restored")
	}
}

func TestWorld_SnapshotAfterDisconnectOmitsAvatar(t *testing.T) {
	h := newHarness(t, Config{ID: "lobby"}, Deps{})
	c := h.connect()
	_ = h.w.Clients().BindControlledEntity(c, "player-1")
	h.enqueue(command.NewJoin("player-1", command.Join{}))
	h.step()

	// Shutdown order: sessions go away before the final snapshot, with the
	// Leave still undrained.
	h.w.Clients().RemoveConnection(c)
	snap := h.w.ExportSnapshot(h.clk.now())
	for _, e := range snap.Entities {
		if e.ID == "player-1" {
			t.Fatalf("snapshot kept %+v after its connection closed", e)
		}
	}
}

func TestWorld_PositionsStayLegal(t *testing.T) {
	obstacles := []command.Obstacle{{X: -20, Z: -20, Radius: 5}, {X: 20, Z: 15, Radius: 4}}
	cfg := Config{HalfExtent: 50, Obstacles: obstacles}
	opts := cfg.QueueOptions()
	opts.MoveRate, opts.MoveBurst = 1e6, 1e6
	h := newHarness(t, cfg, Deps{Queue: command.NewQueue(opts)})
	rng := rand.New(rand.NewSource(11))
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		h.enqueue(command.NewJoin(id, command.Join{}))
	}
	h.step()
	for tick := 0; tick < 200; tick++ {
		for _, id := range ids {
			x, z := rng.Float64()*140-70, rng.Float64()*140-70
			if tick%9 == 0 {
				x, z = -20, -20
			}
			h.enqueue(command.NewPosition(id, x, 0, z, 0))
		}
		h.step()
		for _, id := range ids {
			e := h.w.state.Get(id)
			if math.Abs(e.X) > 50 || math.Abs(e.Z) > 50 {
				t.Fatalf("tick %d: %s out of bounds at (%v,%v)", tick, id, e.X, e.Z)
			}
			for _, o := range obstacles {
				if math.Hypot(e.X-o.X, e.Z-o.Z) < o.Radius-1e-6 {
					t.Fatalf("tick %d: %s inside obstacle at (%v,%v)", tick, id, e.X, e.Z)
				}
			}
		}
	}
}
