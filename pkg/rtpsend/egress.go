package rtpsend

import (
	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/fec"
	"github.com/ethan/rtcpeer/pkg/rtp"
	"github.com/ethan/rtcpeer/pkg/units"
)

// Stats accumulates send-side counters, per spec.md §3's "RTP send state".
type Stats struct {
	PacketsSent uint64
	BytesSent   uint64

	PacketsByType map[PacketType]uint64
}

func newStats() Stats {
	return Stats{PacketsByType: make(map[PacketType]uint64)}
}

func (s *Stats) record(pkt *rtp.Packet, pktType PacketType) {
	s.PacketsSent++
	s.BytesSent += uint64(pkt.MarshalSize())
	s.PacketsByType[pktType]++
}

// Transport is the lower layer Egress hands finished packets to — the
// DTLS-SRTP write path in production, a recording sink in tests.
type Transport interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Egress is the send-side pipeline stage from spec.md §4.4: it writes
// send-side statistics, optionally feeds the FEC generator, and hands the
// packet to the lower transport. When FEC coverage completes a group, it
// returns FEC packets for the caller to push back through the Sequencer.
type Egress struct {
	Clock     clock.Clock
	Sequencer *Sequencer
	Transport Transport
	History   *History

	fecGen      *fec.Generator
	fecGroup    []*rtp.Packet
	fecGroupCap int
	redPT       uint8
	mediaPT     uint8

	Stats Stats
}

// NewEgress returns an Egress with no FEC protection configured.
func NewEgress(c clock.Clock, seq *Sequencer, transport Transport, history *History) *Egress {
	return &Egress{Clock: c, Sequencer: seq, Transport: transport, History: history, Stats: newStats()}
}

// EnableFEC turns on ULPFEC protection: every groupSize media packets sent
// produces one FEC packet wrapped in RED at redPT, covering mediaPT.
func (e *Egress) EnableFEC(fecPT, redPT, mediaPT uint8, groupSize int) {
	e.fecGen = fec.NewGenerator(fecPT)
	e.redPT = redPT
	e.mediaPT = mediaPT
	e.fecGroupCap = groupSize
}

// Send pushes pkt through the send pipeline: sequence it, record stats,
// optionally accumulate it into the active FEC group, write it to the
// wire, and return any FEC packets the group completion produced (the
// caller is responsible for sequencing and sending these in turn).
func (e *Egress) Send(pkt *rtp.Packet, pktType PacketType) ([]*rtp.Packet, error) {
	if !e.Sequencer.Sequence(pkt, pktType) {
		return nil, nil
	}
	e.Stats.record(pkt, pktType)
	if e.History != nil {
		e.History.Put(pkt)
	}

	var produced []*rtp.Packet
	if e.fecGen != nil && (pktType == Audio || pktType == Video) {
		wrapped := pkt.Clone()
		wrapped.PayloadType = e.redPT
		wrapped.Payload = fec.WrapRED(e.mediaPT, pkt.Payload)
		if err := e.Transport.WriteRTP(wrapped); err != nil {
			return nil, err
		}
		e.fecGroup = append(e.fecGroup, pkt)
		if len(e.fecGroup) >= e.fecGroupCap {
			fecPkt, err := e.fecGen.Encode(e.fecGroup, 0, pkt.Timestamp)
			if err != nil {
				return nil, err
			}
			fecPkt.PayloadType = e.redPT
			produced = append(produced, fecPkt)
			e.fecGroup = nil
		}
		return produced, nil
	}

	if err := e.Transport.WriteRTP(pkt); err != nil {
		return nil, err
	}
	return produced, nil
}

// historyEntry pairs a packet with its send time, for RTT-aware NACK
// retransmission decisions.
type historyEntry struct {
	pkt  *rtp.Packet
	sent units.Timestamp
}

// History is a bounded ring of recently sent packets, keyed by sequence
// number, used to satisfy retransmission requests (spec.md §4.4).
type History struct {
	clock    clock.Clock
	capacity int
	order    []uint16
	entries  map[uint16]historyEntry
}

// NewHistory returns a History holding up to capacity packets.
func NewHistory(c clock.Clock, capacity int) *History {
	return &History{clock: c, capacity: capacity, entries: make(map[uint16]historyEntry)}
}

// Put records pkt, evicting the oldest entry if the history is full.
func (h *History) Put(pkt *rtp.Packet) {
	seq := pkt.SequenceNumber
	if _, exists := h.entries[seq]; !exists {
		h.order = append(h.order, seq)
		if len(h.order) > h.capacity {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.entries, oldest)
		}
	}
	h.entries[seq] = historyEntry{pkt: pkt.Clone(), sent: h.clock.Now()}
}

// Get returns the stored packet for seq, if still present.
func (h *History) Get(seq uint16) (*rtp.Packet, bool) {
	e, ok := h.entries[seq]
	if !ok {
		return nil, false
	}
	return e.pkt, true
}
