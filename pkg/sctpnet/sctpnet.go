// Package sctpnet wraps pion/sctp and pion/datachannel behind the
// spec.md §4.13 SCTP transport contract: one association per DTLS
// channel, carrying data channels opened via the DCEP handshake
// (DATA_CHANNEL_OPEN/ACK), stream ids 0..1023.
package sctpnet

import (
	"net"

	"github.com/ethan/rtcpeer/pkg/taskqueue"
	"github.com/ethan/rtcpeer/pkg/transport"
	"github.com/pion/datachannel"
	"github.com/pion/logging"
	"github.com/pion/sctp"
)

// Role is the SCTP association's handshake role, driven by the same
// DTLS client/server split above it in the stack.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// MaxStreamID is the highest SCTP stream identifier this module will
// hand out, per spec.md §4.13.
const MaxStreamID = 1023

// Association wraps one pion/sctp.Association established over an
// already-connected DTLS channel.
type Association struct {
	*transport.Base
	assoc *sctp.Association
}

// NewAssociation establishes an SCTP association over netConn (the
// DTLS transport, which already behaves like a net.Conn once connected).
func NewAssociation(queue *taskqueue.TaskQueue, role Role, netConn net.Conn, maxMessageSize uint32, loggerFactory logging.LoggerFactory) (*Association, error) {
	cfg := sctp.Config{
		NetConn:              netConn,
		MaxReceiveBufferSize: maxMessageSize,
		LoggerFactory:        loggerFactory,
	}

	var assoc *sctp.Association
	var err error
	if role == RoleServer {
		assoc, err = sctp.Server(cfg)
	} else {
		assoc, err = sctp.Client(cfg)
	}
	if err != nil {
		return nil, err
	}

	a := &Association{Base: transport.NewBase(queue, nil), assoc: assoc}
	a.SetState(transport.StateConnected)
	return a, nil
}

// Close shuts down the association and every stream on it.
func (a *Association) Close() error {
	a.Stop()
	return a.assoc.Close()
}

// ChannelConfig is the subset of RTCDataChannelInit relevant to wire
// behavior: how a channel's reliability and ordering are negotiated.
type ChannelConfig struct {
	Label             string
	Protocol          string
	Negotiated        bool
	Ordered           bool
	MaxRetransmits    *uint16
	MaxPacketLifeTime *uint16
}

func (c ChannelConfig) toDatachannelConfig() *datachannel.Config {
	channelType, param := c.reliability()
	return &datachannel.Config{
		ChannelType:          channelType,
		Priority:             datachannel.ChannelPriorityNormal,
		ReliabilityParameter: param,
		Label:                c.Label,
		Protocol:             c.Protocol,
		Negotiated:           c.Negotiated,
	}
}

func (c ChannelConfig) reliability() (datachannel.ChannelType, uint32) {
	switch {
	case c.MaxPacketLifeTime != nil:
		if c.Ordered {
			return datachannel.ChannelTypePartialReliableTimed, uint32(*c.MaxPacketLifeTime)
		}
		return datachannel.ChannelTypePartialReliableTimedUnordered, uint32(*c.MaxPacketLifeTime)
	case c.MaxRetransmits != nil:
		if c.Ordered {
			return datachannel.ChannelTypePartialReliableRexmit, uint32(*c.MaxRetransmits)
		}
		return datachannel.ChannelTypePartialReliableRexmitUnordered, uint32(*c.MaxRetransmits)
	default:
		if c.Ordered {
			return datachannel.ChannelTypeReliable, 0
		}
		return datachannel.ChannelTypeReliableUnordered, 0
	}
}

// DataChannel is one negotiated or in-band data channel stream.
type DataChannel struct {
	dc       *datachannel.DataChannel
	streamID uint16
	label    string
	protocol string
}

// OpenChannel drives the DCEP DATA_CHANNEL_OPEN/ACK handshake for a
// locally-initiated channel on streamID (caller picks an id in
// [0, MaxStreamID], alternating even/odd by role as SCTP requires).
func OpenChannel(assoc *Association, streamID uint16, cfg ChannelConfig) (*DataChannel, error) {
	dc, err := datachannel.Dial(assoc.assoc, streamID, cfg.toDatachannelConfig())
	if err != nil {
		return nil, err
	}
	return &DataChannel{dc: dc, streamID: streamID, label: cfg.Label, protocol: cfg.Protocol}, nil
}

// AcceptChannel blocks for the next inbound DCEP DATA_CHANNEL_OPEN and
// completes the handshake with an ACK.
func AcceptChannel(assoc *Association) (*DataChannel, error) {
	dc, err := datachannel.Accept(assoc.assoc, &datachannel.Config{})
	if err != nil {
		return nil, err
	}
	return &DataChannel{dc: dc, streamID: dc.StreamIdentifier(), label: dc.Config.Label, protocol: dc.Config.Protocol}, nil
}

// Label returns the channel's negotiated label.
func (c *DataChannel) Label() string { return c.label }

// Protocol returns the channel's negotiated subprotocol.
func (c *DataChannel) Protocol() string { return c.protocol }

// StreamID returns the SCTP stream identifier this channel runs on.
func (c *DataChannel) StreamID() uint16 { return c.streamID }

// SendBinary sends one binary application message.
func (c *DataChannel) SendBinary(data []byte) error {
	_, err := c.dc.WriteDataChannel(data, false)
	return err
}

// SendText sends one UTF-8 text application message.
func (c *DataChannel) SendText(data string) error {
	_, err := c.dc.WriteDataChannel([]byte(data), true)
	return err
}

// Receive reads one application message into buf, reporting whether it
// was sent as a text message.
func (c *DataChannel) Receive(buf []byte) (n int, isString bool, err error) {
	return c.dc.ReadDataChannel(buf)
}

// Close closes the channel's stream.
func (c *DataChannel) Close() error {
	return c.dc.Close()
}
