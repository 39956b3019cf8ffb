package session

import (
	"errors"
	"testing"

	"github.com/mossy-p/onair/internal/models"
)

func TestMixerRejectsNonBroadcaster(t *testing.T) {
	store, reg := newTestStore(t)
	connect(reg, "host")
	connect(reg, "l1")

	store.AttachBroadcaster("show", "host", models.BroadcasterInfo{})
	store.AttachListener("show", "l1")

	_, err := store.AddSource("show", "l1", models.AudioSourceInfo{Type: models.SourceMusic, Name: "bed"})
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	_, err = store.UpdateSource("show", "l1", "music-host", models.AudioSourceUpdate{})
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("update: got %v, want ErrUnauthorized", err)
	}
	if err := store.RemoveSource("show", "l1", "music-host"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("remove: got %v, want ErrUnauthorized", err)
	}
}

func TestMixerPartialUpdate(t *testing.T) {
	store, reg := newTestStore(t)
	connect(reg, "host")

	store.AttachBroadcaster("show", "host", models.BroadcasterInfo{})
	src, err := store.AddSource("show", "host", models.AudioSourceInfo{
		Type: models.SourceHost, Name: "mic", Volume: 1.0, IsActive: true, Priority: 10,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	vol := 0.5
	muted := true
	updated, err := store.UpdateSource("show", "host", src.SourceID, models.AudioSourceUpdate{
		Volume: &vol, IsMuted: &muted,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Volume != 0.5 || !updated.IsMuted {
		t.Fatalf("merge failed: %+v", updated)
	}
	// Untouched fields survive the merge.
	if updated.Priority != 10 || !updated.IsActive {
		t.Fatalf("unset fields clobbered: %+v", updated)
	}
}

func TestMixerVolumeRange(t *testing.T) {
	store, reg := newTestStore(t)
	connect(reg, "host")
	store.AttachBroadcaster("show", "host", models.BroadcasterInfo{})

	_, err := store.AddSource("show", "host", models.AudioSourceInfo{Type: models.SourceMusic, Volume: 1.5})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestMixOrderByPriority(t *testing.T) {
	store, reg := newTestStore(t)
	connect(reg, "host")
	connect(reg, "caller")
	store.AttachBroadcaster("show", "host", models.BroadcasterInfo{})

	// Caller added first, host second: arrival order must not win.
	req, _ := store.RequestCall("show", "caller", "Sam", "")
	store.AcceptCall("host", req.CallID)
	store.AddSource("show", "host", models.AudioSourceInfo{
		Type: models.SourceHost, Name: "mic", Volume: 1.0, Priority: 10,
	})

	order, err := store.MixOrder("show")
	if err != nil {
		t.Fatalf("mix order: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("got %d sources, want 2", len(order))
	}
	if order[0].Type != models.SourceHost {
		t.Fatalf("host does not lead the mix: %+v", order)
	}
}

func TestSourcesDroppedOnOwnerDisconnect(t *testing.T) {
	store, reg := newTestStore(t)
	connect(reg, "host")
	connect(reg, "caller")
	store.AttachBroadcaster("show", "host", models.BroadcasterInfo{})

	req, _ := store.RequestCall("show", "caller", "Sam", "")
	store.AcceptCall("host", req.CallID)

	store.HandleDisconnect("show", "caller")
	snap, _ := store.Snapshot("show")
	if len(snap.AudioSources) != 0 {
		t.Fatalf("caller source survived disconnect: %+v", snap.AudioSources)
	}
	if snap.ActiveCalls != 0 {
		t.Fatalf("active call survived disconnect")
	}
}
