package negotiate

import (
	"testing"

	"github.com/voxlink/voxlink/internal/domain"
)

func TestPendingQueueFIFO(t *testing.T) {
	var q pendingQueue
	kinds := []domain.SignalKind{domain.SignalOffer, domain.SignalICECandidate, domain.SignalICECandidate}
	for _, k := range kinds {
		q.push(domain.Signal{Kind: k})
	}
	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	drained := q.drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d signals, want 3", len(drained))
	}
	for i, sig := range drained {
		if sig.Kind != kinds[i] {
			t.Errorf("drained[%d].Kind = %s, want %s", i, sig.Kind, kinds[i])
		}
	}

	if q.len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.len())
	}
	if again := q.drain(); len(again) != 0 {
		t.Errorf("second drain returned %d signals, want 0", len(again))
	}
}

func TestPendingQueueClear(t *testing.T) {
	var q pendingQueue
	q.push(domain.Signal{Kind: domain.SignalOffer})
	q.clear()
	if q.len() != 0 {
		t.Errorf("len after clear = %d, want 0", q.len())
	}
}
