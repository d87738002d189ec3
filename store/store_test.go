package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, New(rdb, 5*time.Minute, 10)
}

func TestOccupancy_DeltaAndRead(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v, err := st.IncrementOccupancy(ctx, "slot-1")
		if err != nil {
			t.Fatalf("IncrementOccupancy err: %#v", err)
		}
		if v != int64(i) {
			t.Errorf("IncrementOccupancy #%d = %d, want %d", i, v, i)
		}
	}
	v, err := st.DecrementOccupancy(ctx, "slot-1")
	if err != nil {
		t.Fatalf("DecrementOccupancy err: %#v", err)
	}
	if v != 2 {
		t.Errorf("DecrementOccupancy = %d, want 2", v)
	}
	got, err := st.GetOccupancy(ctx, "slot-1")
	if err != nil {
		t.Fatalf("GetOccupancy err: %#v", err)
	}
	if got != 2 {
		t.Errorf("GetOccupancy = %d, want 2", got)
	}
}

func TestOccupancy_Concurrent(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.IncrementOccupancy(ctx, "slot-c"); err != nil {
				t.Errorf("IncrementOccupancy err: %#v", err)
			}
		}()
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.DecrementOccupancy(ctx, "slot-c"); err != nil {
				t.Errorf("DecrementOccupancy err: %#v", err)
			}
		}()
	}
	wg.Wait()

	got, err := st.GetOccupancy(ctx, "slot-c")
	if err != nil {
		t.Fatalf("GetOccupancy err: %#v", err)
	}
	if got != 0 {
		t.Errorf("GetOccupancy after balanced inc/dec = %d, want 0", got)
	}
}

func TestOccupancy_ClampsAtZero(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	v, err := st.DecrementOccupancy(ctx, "slot-x")
	if err != nil {
		t.Fatalf("DecrementOccupancy err: %#v", err)
	}
	if v != 0 {
		t.Errorf("DecrementOccupancy below zero = %d, want 0", v)
	}
	got, err := st.GetOccupancy(ctx, "slot-x")
	if err != nil || got != 0 {
		t.Errorf("GetOccupancy = %d err=%#v, want 0, nil", got, err)
	}
}

func TestQueue_FIFO(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := st.EnqueuePlayer(ctx, "duels", &PlayerQueueEntry{PlayerID: id}); err != nil {
			t.Fatalf("EnqueuePlayer err: %#v", err)
		}
	}
	n, err := st.QueueLength(ctx, "duels")
	if err != nil || n != 3 {
		t.Fatalf("QueueLength = %d err=%#v, want 3, nil", n, err)
	}
	for _, want := range []string{"p1", "p2", "p3"} {
		e, err := st.PollPlayer(ctx, "duels")
		if err != nil {
			t.Fatalf("PollPlayer err: %#v", err)
		}
		if e == nil || e.PlayerID != want {
			t.Errorf("PollPlayer = %#v, want player %s", e, want)
		}
	}
	e, err := st.PollPlayer(ctx, "duels")
	if err != nil {
		t.Fatalf("PollPlayer empty err: %#v", err)
	}
	if e != nil {
		t.Errorf("PollPlayer on empty queue = %#v, want nil", e)
	}
}

func TestQueue_RequeueBumpsRetries(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnqueuePlayer(ctx, "sg", &PlayerQueueEntry{PlayerID: "p1"}); err != nil {
		t.Fatalf("EnqueuePlayer err: %#v", err)
	}
	e, err := st.PollPlayer(ctx, "sg")
	if err != nil || e == nil {
		t.Fatalf("PollPlayer got=%#v err=%#v", e, err)
	}
	if err := st.RequeuePlayer(ctx, "sg", e); err != nil {
		t.Fatalf("RequeuePlayer err: %#v", err)
	}
	e2, err := st.PollPlayer(ctx, "sg")
	if err != nil || e2 == nil {
		t.Fatalf("PollPlayer after requeue got=%#v err=%#v", e2, err)
	}
	if e2.Retries != 1 {
		t.Errorf("Retries = %d, want 1", e2.Retries)
	}
	if e2.LastEnqueuedAt.Before(e.LastEnqueuedAt) {
		t.Errorf("LastEnqueuedAt not refreshed: %v -> %v", e.LastEnqueuedAt, e2.LastEnqueuedAt)
	}
}

func TestPartyQueue_FrontInsertion(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnqueuePartyReservation(ctx, "ctf", &PartyReservationEntry{ReservationID: "r1", Family: "ctf"}); err != nil {
		t.Fatalf("EnqueuePartyReservation err: %#v", err)
	}
	if err := st.EnqueuePartyReservationFront(ctx, "ctf", &PartyReservationEntry{ReservationID: "r2", Family: "ctf"}); err != nil {
		t.Fatalf("EnqueuePartyReservationFront err: %#v", err)
	}
	first, err := st.PollPartyReservation(ctx, "ctf")
	if err != nil || first == nil {
		t.Fatalf("PollPartyReservation got=%#v err=%#v", first, err)
	}
	if first.ReservationID != "r2" {
		t.Errorf("front-inserted reservation polled = %s, want r2", first.ReservationID)
	}
}

func TestPendingReservationPlayers_Drain(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		if err := st.EnqueuePendingReservationPlayer(ctx, "res-1", &PlayerQueueEntry{PlayerID: id}); err != nil {
			t.Fatalf("EnqueuePendingReservationPlayer err: %#v", err)
		}
	}
	drained, err := st.DrainPendingReservationPlayers(ctx, "res-1")
	if err != nil {
		t.Fatalf("DrainPendingReservationPlayers err: %#v", err)
	}
	if len(drained) != 2 || drained[0].PlayerID != "p1" || drained[1].PlayerID != "p2" {
		t.Errorf("drained = %#v, want p1,p2 in order", drained)
	}
	// Drained list is gone
	e, err := st.PollPendingReservationPlayer(ctx, "res-1")
	if err != nil || e != nil {
		t.Errorf("PollPendingReservationPlayer after drain got=%#v err=%#v, want nil, nil", e, err)
	}
}

func TestProvisionLock(t *testing.T) {
	mr, st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.AcquireProvisionLock(ctx, "duels", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%#v, want true, nil", ok, err)
	}
	ok, err = st.AcquireProvisionLock(ctx, "duels", time.Minute)
	if err != nil {
		t.Fatalf("second acquire err: %#v", err)
	}
	if ok {
		t.Error("second acquire succeeded while lock held")
	}
	// Another family is an independent lock
	ok, err = st.AcquireProvisionLock(ctx, "ctf", time.Minute)
	if err != nil || !ok {
		t.Errorf("unrelated family acquire ok=%v err=%#v, want true, nil", ok, err)
	}
	if err := st.ReleaseProvisionLock(ctx, "duels"); err != nil {
		t.Fatalf("release err: %#v", err)
	}
	ok, err = st.AcquireProvisionLock(ctx, "duels", time.Minute)
	if err != nil || !ok {
		t.Errorf("acquire after release ok=%v err=%#v, want true, nil", ok, err)
	}

	// TTL expiry frees a lock abandoned by a crashed coordinator
	mr.FastForward(2 * time.Minute)
	ok, err = st.AcquireProvisionLock(ctx, "duels", time.Minute)
	if err != nil || !ok {
		t.Errorf("acquire after TTL expiry ok=%v err=%#v, want true, nil", ok, err)
	}
}

func TestInFlightRoutes(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	route := &RouteEntry{RequestID: "req-1", Entry: PlayerQueueEntry{PlayerID: "p1"}, SlotID: "mini1-a"}
	if err := st.StoreInFlightRoute(ctx, route); err != nil {
		t.Fatalf("StoreInFlightRoute err: %#v", err)
	}
	got, err := st.GetInFlightRoute(ctx, "req-1")
	if err != nil || got == nil {
		t.Fatalf("GetInFlightRoute got=%#v err=%#v", got, err)
	}
	if got.SlotID != "mini1-a" || got.Entry.PlayerID != "p1" {
		t.Errorf("GetInFlightRoute = %#v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped on store")
	}

	all, err := st.InFlightRoutes(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("InFlightRoutes len=%d err=%#v, want 1, nil", len(all), err)
	}

	removed, err := st.RemoveInFlightRoute(ctx, "req-1")
	if err != nil || removed == nil {
		t.Fatalf("RemoveInFlightRoute got=%#v err=%#v", removed, err)
	}
	if removed.SlotID != "mini1-a" {
		t.Errorf("removed route = %#v, want slot mini1-a", removed)
	}
	// Second removal finds nothing
	removed, err = st.RemoveInFlightRoute(ctx, "req-1")
	if err != nil || removed != nil {
		t.Errorf("second RemoveInFlightRoute got=%#v err=%#v, want nil, nil", removed, err)
	}
}

func TestActiveSlot_Exclusivity(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	prev, err := st.SetActiveSlot(ctx, "p1", "slot-a")
	if err != nil {
		t.Fatalf("SetActiveSlot err: %#v", err)
	}
	if prev != "" {
		t.Errorf("first SetActiveSlot prev = %q, want empty", prev)
	}
	prev, err = st.SetActiveSlot(ctx, "p1", "slot-b")
	if err != nil {
		t.Fatalf("SetActiveSlot err: %#v", err)
	}
	if prev != "slot-a" {
		t.Errorf("SetActiveSlot prev = %q, want slot-a", prev)
	}

	// Reverse index: only slot-b contains p1
	aPlayers, err := st.ActivePlayers(ctx, "slot-a")
	if err != nil {
		t.Fatalf("ActivePlayers err: %#v", err)
	}
	if len(aPlayers) != 0 {
		t.Errorf("slot-a players = %#v, want empty", aPlayers)
	}
	bPlayers, err := st.ActivePlayers(ctx, "slot-b")
	if err != nil {
		t.Fatalf("ActivePlayers err: %#v", err)
	}
	if len(bPlayers) != 1 || bPlayers[0] != "p1" {
		t.Errorf("slot-b players = %#v, want [p1]", bPlayers)
	}

	cur, err := st.ActiveSlot(ctx, "p1")
	if err != nil || cur != "slot-b" {
		t.Errorf("ActiveSlot = %q err=%#v, want slot-b, nil", cur, err)
	}

	// Clearing with an empty slot id
	prev, err = st.SetActiveSlot(ctx, "p1", "")
	if err != nil || prev != "slot-b" {
		t.Fatalf("clear SetActiveSlot prev=%q err=%#v, want slot-b, nil", prev, err)
	}
	cur, err = st.ActiveSlot(ctx, "p1")
	if err != nil || cur != "" {
		t.Errorf("ActiveSlot after clear = %q err=%#v, want empty, nil", cur, err)
	}
	bPlayers, err = st.ActivePlayers(ctx, "slot-b")
	if err != nil || len(bPlayers) != 0 {
		t.Errorf("slot-b players after clear = %#v err=%#v, want empty, nil", bPlayers, err)
	}
}

func TestRemoveActivePlayersForSlot(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		if _, err := st.SetActiveSlot(ctx, p, "slot-a"); err != nil {
			t.Fatalf("SetActiveSlot err: %#v", err)
		}
	}
	if _, err := st.SetActiveSlot(ctx, "p4", "slot-b"); err != nil {
		t.Fatalf("SetActiveSlot err: %#v", err)
	}

	affected, err := st.RemoveActivePlayersForSlot(ctx, "slot-a")
	if err != nil {
		t.Fatalf("RemoveActivePlayersForSlot err: %#v", err)
	}
	sort.Strings(affected)
	want := []string{"p1", "p2", "p3"}
	if len(affected) != len(want) {
		t.Fatalf("affected = %#v, want %#v", affected, want)
	}
	for i := range want {
		if affected[i] != want[i] {
			t.Errorf("affected = %#v, want %#v", affected, want)
			break
		}
	}
	for _, p := range want {
		cur, err := st.ActiveSlot(ctx, p)
		if err != nil || cur != "" {
			t.Errorf("ActiveSlot(%s) = %q err=%#v, want empty, nil", p, cur, err)
		}
	}
	// Unrelated slot untouched
	cur, err := st.ActiveSlot(ctx, "p4")
	if err != nil || cur != "slot-b" {
		t.Errorf("ActiveSlot(p4) = %q err=%#v, want slot-b, nil", cur, err)
	}
}

func TestMatchRoster(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	if err := st.StoreMatchRoster(ctx, &MatchRosterEntry{SlotID: "mini1-a", PlayerIDs: []string{"p1", "p2"}}); err != nil {
		t.Fatalf("StoreMatchRoster err: %#v", err)
	}
	got, err := st.GetMatchRoster(ctx, "mini1-a")
	if err != nil || got == nil {
		t.Fatalf("GetMatchRoster got=%#v err=%#v", got, err)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
	first := got.UpdatedAt

	if err := st.StoreMatchRoster(ctx, &MatchRosterEntry{SlotID: "mini1-a", PlayerIDs: []string{"p1"}}); err != nil {
		t.Fatalf("StoreMatchRoster err: %#v", err)
	}
	got, err = st.GetMatchRoster(ctx, "mini1-a")
	if err != nil || got == nil {
		t.Fatalf("GetMatchRoster got=%#v err=%#v", got, err)
	}
	if got.UpdatedAt.Before(first) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", first, got.UpdatedAt)
	}

	removed, err := st.RemoveMatchRoster(ctx, "mini1-a")
	if err != nil || removed == nil || len(removed.PlayerIDs) != 1 {
		t.Errorf("RemoveMatchRoster got=%#v err=%#v", removed, err)
	}
	got, err = st.GetMatchRoster(ctx, "mini1-a")
	if err != nil || got != nil {
		t.Errorf("GetMatchRoster after remove got=%#v err=%#v, want nil, nil", got, err)
	}
}

func TestPartyAllocations(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	alloc := &PartyAllocationEntry{
		Reservation: PartyReservationEntry{ReservationID: "res-1", Family: "ctf", PlayerIDs: []string{"p1", "p2"}},
		SlotID:      "mega1-b",
	}
	if err := st.StorePartyAllocation(ctx, alloc); err != nil {
		t.Fatalf("StorePartyAllocation err: %#v", err)
	}
	got, err := st.GetPartyAllocation(ctx, "res-1")
	if err != nil || got == nil || got.SlotID != "mega1-b" {
		t.Fatalf("GetPartyAllocation got=%#v err=%#v", got, err)
	}
	all, err := st.PartyAllocations(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("PartyAllocations len=%d err=%#v, want 1, nil", len(all), err)
	}
	removed, err := st.RemovePartyAllocation(ctx, "res-1")
	if err != nil || removed == nil {
		t.Fatalf("RemovePartyAllocation got=%#v err=%#v", removed, err)
	}
	got, err = st.GetPartyAllocation(ctx, "res-1")
	if err != nil || got != nil {
		t.Errorf("GetPartyAllocation after remove got=%#v err=%#v, want nil, nil", got, err)
	}
}

func TestRecentSlots_TrimAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	st := New(rdb, 150*time.Millisecond, 3)
	ctx := context.Background()

	for _, s := range []string{"s1", "s2", "s3", "s4"} {
		if err := st.PushRecentSlot(ctx, "p1", s); err != nil {
			t.Fatalf("PushRecentSlot err: %#v", err)
		}
	}
	recent, err := st.RecentSlots(ctx, "p1")
	if err != nil {
		t.Fatalf("RecentSlots err: %#v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("RecentSlots len = %d, want 3 (trimmed)", len(recent))
	}
	// Newest first; s1 was trimmed away
	if recent[0].SlotID != "s4" || recent[2].SlotID != "s2" {
		t.Errorf("RecentSlots order = %#v, want s4..s2", recent)
	}

	// Entries past the window are dropped as part of the read even if the
	// key lives on
	time.Sleep(200 * time.Millisecond)
	recent, err = st.RecentSlots(ctx, "p1")
	if err != nil {
		t.Fatalf("RecentSlots err: %#v", err)
	}
	if len(recent) != 0 {
		t.Errorf("RecentSlots after window = %#v, want empty", recent)
	}
}

func TestRecentSlots_PartialExpiryKeepsFreshEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	st := New(rdb, 150*time.Millisecond, 10)
	ctx := context.Background()

	if err := st.PushRecentSlot(ctx, "p1", "s1"); err != nil {
		t.Fatalf("PushRecentSlot err: %#v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := st.PushRecentSlot(ctx, "p1", "s2"); err != nil {
		t.Fatalf("PushRecentSlot err: %#v", err)
	}
	time.Sleep(80 * time.Millisecond)

	// s1 is past the window, s2 is not; the read compacts without touching
	// the fresh entry.
	recent, err := st.RecentSlots(ctx, "p1")
	if err != nil {
		t.Fatalf("RecentSlots err: %#v", err)
	}
	if len(recent) != 1 || recent[0].SlotID != "s2" {
		t.Fatalf("RecentSlots = %#v, want [s2]", recent)
	}

	// An entry pushed after one compaction survives the next read intact.
	if err := st.PushRecentSlot(ctx, "p1", "s3"); err != nil {
		t.Fatalf("PushRecentSlot err: %#v", err)
	}
	recent, err = st.RecentSlots(ctx, "p1")
	if err != nil {
		t.Fatalf("RecentSlots err: %#v", err)
	}
	if len(recent) != 2 || recent[0].SlotID != "s3" || recent[1].SlotID != "s2" {
		t.Errorf("RecentSlots = %#v, want [s3 s2]", recent)
	}
}

func TestMalformedPayloadsTreatedAsAbsent(t *testing.T) {
	mr, st := newTestStore(t)
	ctx := context.Background()

	mr.HSet("registry:routing:inflight", "req-bad", "{not json")
	got, err := st.GetInFlightRoute(ctx, "req-bad")
	if err != nil {
		t.Fatalf("GetInFlightRoute err: %#v, want nil", err)
	}
	if got != nil {
		t.Errorf("GetInFlightRoute on corrupt payload = %#v, want nil", got)
	}

	if _, err := mr.Push("registry:routing:queue:duels", "also not json"); err != nil {
		t.Fatalf("seed queue: %#v", err)
	}
	e, err := st.PollPlayer(ctx, "duels")
	if err != nil {
		t.Fatalf("PollPlayer err: %#v, want nil", err)
	}
	if e != nil {
		t.Errorf("PollPlayer on corrupt payload = %#v, want nil", e)
	}
}

func TestServerRecordPersistence(t *testing.T) {
	_, st := newTestStore(t)
	ctx := context.Background()

	type rec struct {
		ServerID string `json:"serverId"`
		Status   string `json:"status"`
	}
	if err := st.SaveServerRecord(ctx, "mini1", &rec{ServerID: "mini1", Status: "RUNNING"}); err != nil {
		t.Fatalf("SaveServerRecord err: %#v", err)
	}
	if err := st.SetTempID(ctx, "temp-abc", "mini1"); err != nil {
		t.Fatalf("SetTempID err: %#v", err)
	}

	raws, err := st.ServerRecords(ctx)
	if err != nil || len(raws) != 1 {
		t.Fatalf("ServerRecords len=%d err=%#v, want 1, nil", len(raws), err)
	}
	var out rec
	if !DecodeRecord(raws["mini1"], &out, "mini1") || out.Status != "RUNNING" {
		t.Errorf("DecodeRecord = %#v", out)
	}

	id, err := st.TempID(ctx, "temp-abc")
	if err != nil || id != "mini1" {
		t.Errorf("TempID = %q err=%#v, want mini1, nil", id, err)
	}
	id, err = st.TempID(ctx, "temp-unknown")
	if err != nil || id != "" {
		t.Errorf("TempID unknown = %q err=%#v, want empty, nil", id, err)
	}

	if err := st.DeleteTempID(ctx, "temp-abc"); err != nil {
		t.Fatalf("DeleteTempID err: %#v", err)
	}
	if err := st.DeleteServerRecord(ctx, "mini1"); err != nil {
		t.Fatalf("DeleteServerRecord err: %#v", err)
	}
	raws, err = st.ServerRecords(ctx)
	if err != nil || len(raws) != 0 {
		t.Errorf("ServerRecords after delete len=%d err=%#v, want 0, nil", len(raws), err)
	}
}
