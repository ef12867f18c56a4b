package receive

import (
	"testing"

	"github.com/ethan/rtcpeer/pkg/clock"
	"github.com/ethan/rtcpeer/pkg/units"
)

func TestSeqNumUnwrapperFirstValuePassesThrough(t *testing.T) {
	u := NewSeqNumUnwrapper()
	if got := u.Unwrap(65000); got != 65000 {
		t.Fatalf("first value = %d, want 65000", got)
	}
}

func TestSeqNumUnwrapperIsMonotoneAcrossWrap(t *testing.T) {
	u := NewSeqNumUnwrapper()
	first := u.Unwrap(65530)
	second := u.Unwrap(5) // wraps past 65535
	if second <= first {
		t.Fatalf("expected monotone increase across wrap, got %d then %d", first, second)
	}
	if second != first+11 {
		t.Fatalf("expected delta of 11 across wrap, got %d", second-first)
	}
}

func TestSeqNumUnwrapperHandlesBackwardJump(t *testing.T) {
	u := NewSeqNumUnwrapper()
	first := u.Unwrap(100)
	second := u.Unwrap(90)
	if second != first-10 {
		t.Fatalf("expected small backward jump to decrease by 10, got delta %d", second-first)
	}
}

func TestStatisticianNoLossInOrder(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	s := NewRtpStreamStatistician(clk, 90000)
	for i := 0; i < 100; i++ {
		s.OnRtpPacket(uint16(i), uint32(i*3000), 100)
		clk.Advance(units.Millis(33))
	}
	if s.CumulativeLost() != 0 {
		t.Fatalf("expected zero cumulative loss, got %d", s.CumulativeLost())
	}
	if s.ExtendedHighest() != 99 {
		t.Fatalf("expected extended highest 99, got %d", s.ExtendedHighest())
	}
	block, ok := s.GetReportBlock(0xAAAA)
	if !ok {
		t.Fatal("expected a report block after receiving packets")
	}
	if block.FractionLost != 0 {
		t.Fatalf("expected fraction lost 0, got %d", block.FractionLost)
	}
	if block.CumulativeLost != 0 {
		t.Fatalf("expected cumulative lost 0, got %d", block.CumulativeLost)
	}
}

func TestStatisticianCountsOneDroppedPacket(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	s := NewRtpStreamStatistician(clk, 90000)
	for i := 0; i < 100; i++ {
		if i == 50 {
			continue
		}
		s.OnRtpPacket(uint16(i), uint32(i*3000), 100)
		clk.Advance(units.Millis(33))
	}
	if s.CumulativeLost() != 1 {
		t.Fatalf("expected cumulative lost 1, got %d", s.CumulativeLost())
	}
	if s.ExtendedHighest() != 99 {
		t.Fatalf("expected extended highest 99, got %d", s.ExtendedHighest())
	}
	block, ok := s.GetReportBlock(0xAAAA)
	if !ok {
		t.Fatal("expected a report block")
	}
	// fraction lost ~= 1/100 of 256 == 2 or 3 depending on rounding.
	if block.FractionLost < 1 || block.FractionLost > 4 {
		t.Fatalf("expected fraction lost near 1/100, got %d", block.FractionLost)
	}
}

func TestStatisticianReportBlockEmptyWhenNothingSinceLast(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	s := NewRtpStreamStatistician(clk, 90000)
	s.OnRtpPacket(0, 0, 100)
	if _, ok := s.GetReportBlock(1); !ok {
		t.Fatal("expected a report block for the first packet")
	}
	if _, ok := s.GetReportBlock(1); ok {
		t.Fatal("expected no report block when nothing arrived since the last one")
	}
}

func TestNackModuleRequestsGapBetweenReceivedPackets(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	n := NewNackModule(clk, units.Millis(50))

	n.InsertPacket(100, false, false)
	n.InsertPacket(101, false, false)
	n.InsertPacket(103, false, false)

	if n.Len() != 1 {
		t.Fatalf("expected 1 outstanding want-list entry for seq 102, got %d", n.Len())
	}

	clk.Advance(units.Millis(50))
	batch := n.Update()
	if len(batch) != 1 || batch[0] != 102 {
		t.Fatalf("expected batch [102], got %v", batch)
	}
}

func TestNackModuleReNacksAfterRttThenDropsAfterRetryCap(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	n := NewNackModule(clk, units.Millis(10))
	n.retryCap = 2

	n.InsertPacket(0, false, false)
	n.InsertPacket(2, false, false)

	for i := 0; i < 3; i++ {
		clk.Advance(units.Millis(10))
		n.Update()
	}
	if n.Len() != 0 {
		t.Fatalf("expected entry to be dropped after exceeding retry cap, got %d remaining", n.Len())
	}
}

func TestNackModuleClearUpToRemovesOldEntries(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	n := NewNackModule(clk, units.Millis(50))
	n.InsertPacket(10, false, false)
	n.InsertPacket(20, false, false)
	if n.Len() != 9 {
		t.Fatalf("expected 9 outstanding entries (11..19), got %d", n.Len())
	}
	n.ClearUpTo(15)
	if n.Len() != 4 {
		t.Fatalf("expected 4 entries remaining (16..19), got %d", n.Len())
	}
}

func TestNackModuleOverflowTrimsToKeyframeThenRequestsOne(t *testing.T) {
	clk := clock.NewSimulated(units.ZeroTimestamp())
	n := NewNackModule(clk, units.Millis(50))
	n.listCap = 5

	n.InsertPacket(0, true, false)
	n.InsertPacket(20, false, false)
	if !n.KeyframeRequested() {
		t.Fatal("expected a keyframe request once the want-list overflowed past the newest keyframe")
	}
	if n.Len() != 0 {
		t.Fatalf("expected want-list cleared after overflow, got %d", n.Len())
	}
}
