// Package ice wraps pion/ice/v4 behind the spec.md §4.11 ICE transport
// contract: role, candidate gathering, remote-candidate ingestion, and a
// packet-received callback dispatched through pkg/transport.Base. Exact
// wire behavior (STUN/TURN, connectivity checks) is delegated entirely to
// the pion/ice/v4 agent, as spec.md §4.11 says it should be.
package ice

import (
	"context"

	"github.com/ethan/rtcpeer/pkg/config"
	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/transport"
	"github.com/ethan/rtcpeer/pkg/wrtcerr"
	pionice "github.com/pion/ice/v4"
	"github.com/pion/logging"
)

// Role is this agent's ICE role, per spec.md §4.11.
type Role int

const (
	RoleActPass Role = iota
	RoleActive
	RolePassive
)

// GatheringState mirrors spec.md's GatheringState enum.
type GatheringState int

const (
	GatheringStateNew GatheringState = iota
	GatheringStateGathering
	GatheringStateCompleted
)

// Transport wraps a pion/ice/v4 Agent, exposing the minimal contract
// spec.md §4.11 names on top of pkg/transport.Base's state machine.
type Transport struct {
	*transport.Base

	agent *pionice.Agent
	role  Role

	localUfrag, localPwd   string
	remoteUfrag, remotePwd string

	gatheringState GatheringState
	conn           *pionice.Conn

	onLocalCandidate       func(candidate string)
	onGatheringStateChange func(GatheringState)
}

// NewTransport constructs an ICE Transport in role, gathering from the
// given configured servers and logging through loggerFactory (so it
// shares the one structured sink with DTLS/SCTP, per SPEC_FULL.md §0).
func NewTransport(queue *taskqueue.TaskQueue, role Role, servers []config.ICEServerConfig, loggerFactory logging.LoggerFactory) (*Transport, error) {
	var urls []*pionice.URL
	for _, s := range servers {
		for _, raw := range s.URLs {
			u, err := pionice.ParseURL(raw)
			if err != nil {
				return nil, &wrtcerr.BadMediaConfiguration{Reason: "invalid ICE server url " + raw + ": " + err.Error()}
			}
			if s.Username != "" {
				u.Username = s.Username
				u.Password = s.Credential
			}
			urls = append(urls, u)
		}
	}

	agentConfig := &pionice.AgentConfig{
		Urls:          urls,
		NetworkTypes:  []pionice.NetworkType{pionice.NetworkTypeUDP4, pionice.NetworkTypeUDP6},
		LoggerFactory: loggerFactory,
	}
	agent, err := pionice.NewAgent(agentConfig)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		Base:  transport.NewBase(queue, nil),
		agent: agent,
		role:  role,
	}

	if err := agent.OnCandidate(func(c pionice.Candidate) {
		t.Queue.Dispatch(func() { t.handleCandidate(c) })
	}); err != nil {
		return nil, err
	}
	if err := agent.OnConnectionStateChange(func(s pionice.ConnectionState) {
		t.Queue.Dispatch(func() { t.SetState(mapConnectionState(s)) })
	}); err != nil {
		return nil, err
	}

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		return nil, err
	}
	t.localUfrag, t.localPwd = ufrag, pwd

	return t, nil
}

func (t *Transport) handleCandidate(c pionice.Candidate) {
	if c == nil {
		t.gatheringState = GatheringStateCompleted
		if t.onGatheringStateChange != nil {
			t.onGatheringStateChange(GatheringStateCompleted)
		}
		return
	}
	if t.onLocalCandidate != nil {
		t.onLocalCandidate(c.Marshal())
	}
}

func mapConnectionState(s pionice.ConnectionState) transport.State {
	switch s {
	case pionice.ConnectionStateNew, pionice.ConnectionStateChecking:
		return transport.StateConnecting
	case pionice.ConnectionStateConnected:
		return transport.StateConnected
	case pionice.ConnectionStateCompleted:
		return transport.StateCompleted
	default:
		return transport.StateFailed
	}
}

// Role returns this transport's configured ICE role.
func (t *Transport) Role() Role { return t.role }

// GatheringState returns the current candidate-gathering phase.
func (t *Transport) GatheringState() GatheringState { return t.gatheringState }

// LocalCredentials returns the ufrag/pwd this agent generated.
func (t *Transport) LocalCredentials() (ufrag, pwd string) { return t.localUfrag, t.localPwd }

// SetRemoteCredentials records the peer's ufrag/pwd ahead of Connect.
func (t *Transport) SetRemoteCredentials(ufrag, pwd string) {
	t.remoteUfrag, t.remotePwd = ufrag, pwd
}

// OnLocalCandidate registers the callback fired once per gathered local
// candidate (marshaled SDP candidate-attribute form).
func (t *Transport) OnLocalCandidate(fn func(candidate string)) { t.onLocalCandidate = fn }

// OnGatheringStateChange registers the gathering-state callback.
func (t *Transport) OnGatheringStateChange(fn func(GatheringState)) {
	t.onGatheringStateChange = fn
}

// GatherLocalCandidate starts candidate gathering.
func (t *Transport) GatherLocalCandidate() error {
	t.gatheringState = GatheringStateGathering
	return t.agent.GatherCandidates()
}

// AddRemoteCandidate ingests one remote `candidate:` attribute line.
func (t *Transport) AddRemoteCandidate(candidateLine string) error {
	c, err := pionice.UnmarshalCandidate(candidateLine)
	if err != nil {
		return &wrtcerr.InvalidSDP{Reason: "invalid ICE candidate: " + err.Error()}
	}
	return t.agent.AddRemoteCandidate(c)
}

// Connect drives the connectivity-check handshake to completion: the
// ACTIVE side dials, the PASSIVE side accepts, and ACT_PASS defers to
// whichever role the DTLS layer above resolves to before Connect is
// called (mirroring the teacher's "decide role once, before transport
// bring-up" ordering).
func (t *Transport) Connect(ctx context.Context) error {
	var conn *pionice.Conn
	var err error
	if t.role == RolePassive {
		conn, err = t.agent.Accept(ctx, t.remoteUfrag, t.remotePwd)
	} else {
		conn, err = t.agent.Dial(ctx, t.remoteUfrag, t.remotePwd)
	}
	if err != nil {
		return err
	}
	t.conn = conn
	go t.readLoop()
	return nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		t.DeliverPacket(buf[:n])
	}
}

// Send writes buf to the established ICE connection.
func (t *Transport) Send(buf []byte) error {
	if t.Stopped() {
		return nil
	}
	if t.conn == nil {
		return &wrtcerr.UnexpectedState{Have: "not connected", Want: "connected"}
	}
	_, err := t.conn.Write(buf)
	return err
}

// Close tears down the agent and any established connection.
func (t *Transport) Close() error {
	t.Stop()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	return t.agent.Close()
}
