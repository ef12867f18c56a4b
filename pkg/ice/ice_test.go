package ice

import (
	"testing"
	"time"

	"github.com/ethan/rtcpeer/pkg/config"
	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/pion/logging"
)

func TestNewTransportGeneratesLocalCredentials(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	tr, err := NewTransport(q, RoleActive, []config.ICEServerConfig{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	ufrag, pwd := tr.LocalCredentials()
	if ufrag == "" || pwd == "" {
		t.Fatal("expected non-empty local ufrag/pwd")
	}
	if tr.GatheringState() != GatheringStateNew {
		t.Fatalf("expected GatheringStateNew before GatherLocalCandidate, got %v", tr.GatheringState())
	}
	if tr.Role() != RoleActive {
		t.Fatalf("expected RoleActive, got %v", tr.Role())
	}
}

func TestGatherLocalCandidateTransitionsGatheringState(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	tr, err := NewTransport(q, RolePassive, nil, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	done := make(chan GatheringState, 2)
	tr.OnGatheringStateChange(func(s GatheringState) { done <- s })

	if err := tr.GatherLocalCandidate(); err != nil {
		t.Fatalf("GatherLocalCandidate: %v", err)
	}
	if tr.GatheringState() != GatheringStateGathering {
		t.Fatalf("expected GatheringStateGathering immediately after call, got %v", tr.GatheringState())
	}

	select {
	case s := <-done:
		if s != GatheringStateCompleted {
			t.Fatalf("expected eventual GatheringStateCompleted, got %v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gathering to complete")
	}
}

func TestAddRemoteCandidateRejectsMalformedLine(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	tr, err := NewTransport(q, RoleActPass, nil, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if err := tr.AddRemoteCandidate("not a candidate line"); err == nil {
		t.Fatal("expected an error for a malformed candidate line")
	}
}

func TestSendBeforeConnectReturnsUnexpectedState(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	tr, err := NewTransport(q, RoleActPass, nil, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if err := tr.Send([]byte("x")); err == nil {
		t.Fatal("expected Send before Connect to fail")
	}
}

func TestStoppedTransportSendIsNoOp(t *testing.T) {
	q := taskqueue.New("test")
	defer q.Stop()

	tr, err := NewTransport(q, RoleActPass, nil, logging.NewDefaultLoggerFactory())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tr.Stop()

	if err := tr.Send([]byte("x")); err != nil {
		t.Fatalf("expected a stopped transport's Send to be a silent no-op, got %v", err)
	}
}
