package pc

import (
	"sync"

	"github.com/ethan/rtcpeer/pkg/sctpnet"
)

// DataChannelInit mirrors the subset of RTCDataChannelInit this module
// negotiates: label/protocol plus the reliability knobs SCTP needs.
type DataChannelInit struct {
	Label             string
	Protocol          string
	Ordered           bool
	MaxRetransmits    *uint16
	MaxPacketLifeTime *uint16
}

func (init DataChannelInit) toChannelConfig() sctpnet.ChannelConfig {
	return sctpnet.ChannelConfig{
		Label:             init.Label,
		Protocol:          init.Protocol,
		Ordered:           init.Ordered,
		MaxRetransmits:    init.MaxRetransmits,
		MaxPacketLifeTime: init.MaxPacketLifeTime,
	}
}

// pendingDataChannel is a CreateDataChannel request recorded before the
// SCTP association exists; wireDataChannels opens each one, in request
// order, once the association comes up.
type pendingDataChannel struct {
	init   DataChannelInit
	handle *DataChannel
}

// DataChannel is a label/protocol-identified SCTP stream. A handle
// returned by CreateDataChannel is usable for Send once the underlying
// transport chain finishes connecting; OnDataChannel handles are usable
// immediately.
type DataChannel struct {
	mu    sync.Mutex
	inner *sctpnet.DataChannel
	label string
}

func (d *DataChannel) bind(inner *sctpnet.DataChannel) {
	d.mu.Lock()
	d.inner = inner
	d.mu.Unlock()
}

// Label returns the channel's negotiated label.
func (d *DataChannel) Label() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inner != nil {
		return d.inner.Label()
	}
	return d.label
}

// SendBinary sends one binary message, failing if the channel has not
// finished opening yet.
func (d *DataChannel) SendBinary(data []byte) error {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return &unreadyError{"data channel"}
	}
	return inner.SendBinary(data)
}

// SendText sends one UTF-8 text message.
func (d *DataChannel) SendText(text string) error {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return &unreadyError{"data channel"}
	}
	return inner.SendText(text)
}

// Receive reads one application message into buf.
func (d *DataChannel) Receive(buf []byte) (n int, isString bool, err error) {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return 0, false, &unreadyError{"data channel"}
	}
	return inner.Receive(buf)
}

// Close closes the underlying SCTP stream, if open.
func (d *DataChannel) Close() error {
	d.mu.Lock()
	inner := d.inner
	d.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

// CreateDataChannel registers a new data channel to be negotiated on the
// next CreateOffer/CreateAnswer and opened once the transport chain
// connects. The returned handle is safe to use immediately; sends before
// the channel opens return an error.
func (pcn *PeerConnection) CreateDataChannel(init DataChannelInit) (*DataChannel, error) {
	if init.Label == "" {
		return nil, &unreadyError{"data channel label"}
	}
	handle := &DataChannel{label: init.Label}
	pcn.mu.Lock()
	pcn.dataChannels = append(pcn.dataChannels, &pendingDataChannel{init: init, handle: handle})
	pcn.mu.Unlock()
	return handle, nil
}

// wireDataChannels opens every channel requested via CreateDataChannel
// once the SCTP association is up, assigning stream ids by the
// even(client)/odd(server) convention SCTP requires of the two
// endpoints, and starts accepting remote-initiated channels.
func (pcn *PeerConnection) wireDataChannels(role sctpnet.Role) {
	pcn.mu.Lock()
	pending := append([]*pendingDataChannel(nil), pcn.dataChannels...)
	assoc := pcn.sctp
	pcn.mu.Unlock()

	streamID := uint16(0)
	if role == sctpnet.RoleServer {
		streamID = 1
	}
	for _, p := range pending {
		dc, err := sctpnet.OpenChannel(assoc, streamID, p.init.toChannelConfig())
		streamID += 2
		if err != nil {
			pcn.logger.Warn("pc: open data channel failed", "label", p.init.Label, "error", err)
			continue
		}
		p.handle.bind(dc)
	}

	go pcn.acceptDataChannels(assoc)
}

func (pcn *PeerConnection) acceptDataChannels(assoc *sctpnet.Association) {
	for {
		dc, err := sctpnet.AcceptChannel(assoc)
		if err != nil {
			return
		}
		handle := &DataChannel{label: dc.Label()}
		handle.bind(dc)

		pcn.mu.Lock()
		cb := pcn.onDataChannel
		pcn.mu.Unlock()
		if cb != nil {
			pcn.queue.Dispatch(func() { cb(handle) })
		}
	}
}
