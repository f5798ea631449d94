package mediagroup

import (
	"testing"
	"time"
)

func TestAggregatorFlushesAlbumOnce(t *testing.T) {
	flushed := make(chan Group, 4)
	a := New(Options{
		Debounce: 20 * time.Millisecond,
		OnFlush:  func(g Group) { flushed <- g },
	})

	a.Add(Item{ChatID: 7, MediaGroupID: "album", FileID: "a"})
	a.Add(Item{ChatID: 7, MediaGroupID: "album", FileID: "b", Caption: "Make it retro"})
	a.Add(Item{ChatID: 7, MediaGroupID: "album", FileID: "c"})

	select {
	case g := <-flushed:
		if g.ChatID != 7 || len(g.FileIDs) != 3 {
			t.Fatalf("group = %+v", g)
		}
		if g.Last() != "c" {
			t.Fatalf("Last() = %q", g.Last())
		}
		if g.Caption != "Make it retro" {
			t.Fatalf("Caption = %q", g.Caption)
		}
	case <-time.After(time.Second):
		t.Fatal("album was not flushed")
	}

	select {
	case g := <-flushed:
		t.Fatalf("second flush %+v", g)
	case <-time.After(60 * time.Millisecond):
	}
	if a.Pending() != 0 {
		t.Fatalf("Pending() = %d", a.Pending())
	}
}

func TestAggregatorKeepsChatsApart(t *testing.T) {
	flushed := make(chan Group, 4)
	a := New(Options{
		Debounce: 10 * time.Millisecond,
		OnFlush:  func(g Group) { flushed <- g },
	})

	a.Add(Item{ChatID: 1, MediaGroupID: "same", FileID: "x"})
	a.Add(Item{ChatID: 2, MediaGroupID: "same", FileID: "y"})

	seen := map[int64]string{}
	for i := 0; i < 2; i++ {
		select {
		case g := <-flushed:
			seen[g.ChatID] = g.Last()
		case <-time.After(time.Second):
			t.Fatal("missing flush")
		}
	}
	if seen[1] != "x" || seen[2] != "y" {
		t.Fatalf("flushed = %v", seen)
	}
}

func TestAggregatorIgnoresIncompleteItems(t *testing.T) {
	a := New(Options{OnFlush: func(Group) { t.Error("unexpected flush") }})
	a.Add(Item{ChatID: 1, FileID: "x"})
	a.Add(Item{ChatID: 1, MediaGroupID: "g"})
	if a.Pending() != 0 {
		t.Fatalf("Pending() = %d", a.Pending())
	}
	if (Group{}).Last() != "" {
		t.Fatal("empty group has a last photo")
	}
}

func TestStopDropsPending(t *testing.T) {
	flushed := make(chan Group, 1)
	a := New(Options{
		Debounce: 10 * time.Millisecond,
		OnFlush:  func(g Group) { flushed <- g },
	})
	a.Add(Item{ChatID: 1, MediaGroupID: "g", FileID: "x"})
	a.Add(Item{ChatID: 2, MediaGroupID: "g", FileID: "y"})
	if n := a.Pending(); n != 2 {
		t.Fatalf("Pending() before Stop = %d, want 2", n)
	}
	a.Stop()
	if n := a.Pending(); n != 0 {
		t.Fatalf("Pending() after Stop = %d", n)
	}

	select {
	case g := <-flushed:
		t.Fatalf("flushed after Stop: %+v", g)
	case <-time.After(50 * time.Millisecond):
	}
}
