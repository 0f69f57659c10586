package testvectors

import (
	"encoding/hex"
	"fmt"

	"github.com/bearlytools/pdlc/ir"
	"github.com/bearlytools/pdlc/layout"
	"github.com/gostdlib/base/context"
)

// TestCase is one generated {packed, unpacked} pair.
type TestCase struct {
	Packed   string         `json:"packed"`
	Unpacked map[string]any `json:"unpacked"`
	// Packet names the leaf declaration this case was generated for, set
	// only when it differs from the root ancestor the case is grouped
	// under (a derived packet's own instances).
	Packet string `json:"packet,omitempty"`
}

// PacketVectors groups every TestCase generated for one root ancestor
// packet, spanning that packet and every packet derived from it.
type PacketVectors struct {
	Packet string     `json:"packet"`
	Tests  []TestCase `json:"tests"`
}

// serializeValues finalizes and serializes each generated Packet into a
// TestCase, tagging it with its own (possibly derived) declaration id
// whenever that differs from root.
func serializeValues(f *ir.File, packets []*Packet, root ir.Declaration) ([]TestCase, error) {
	out := make([]TestCase, 0, len(packets))
	for _, p := range packets {
		packed, err := p.Serialize(f.Endianness == ir.BigEndian)
		if err != nil {
			return nil, fmt.Errorf("serializing %q: %w", p.Ref.ID(), err)
		}

		tc := TestCase{
			Packed:   hex.EncodeToString(packed),
			Unpacked: p.ToJSON(),
		}
		if p.Ref.ID() != root.ID() {
			tc.Packet = p.Ref.ID()
		}
		out = append(out, tc)
	}
	return out, nil
}

// GenerateAll generates test vectors for every requested leaf packet in f
// (or every leaf packet if packets is empty), grouped by root ancestor. A
// leaf packet is one with no derived children (layout.DerivedPackets
// returns none for it); only a fully specialized declaration can be
// serialized, so naming a non-leaf packet in packets matches nothing.
// Generation failures for one packet are collected and returned as
// warnings rather than aborting the whole run.
func GenerateAll(ctx context.Context, f *ir.File, packets []string) ([]PacketVectors, []string, error) {
	var want map[string]bool
	if len(packets) > 0 {
		want = make(map[string]bool, len(packets))
		for _, id := range packets {
			want[id] = true
		}
	}

	gen := &BitGenerator{}

	groups := make(map[string]*PacketVectors)
	var order []string
	var warnings []string

	for _, d := range f.Declarations {
		pkt, ok := d.(*ir.PacketDeclaration)
		if !ok {
			continue
		}
		if len(layout.DerivedPackets(f, pkt)) > 0 {
			continue
		}
		if want != nil && !want[pkt.DeclID] {
			continue
		}

		root := layout.Ancestor(f, pkt)

		instances, err := generatePacketValues(ctx, f, pkt, gen)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("packet %q: %v", pkt.DeclID, err))
			continue
		}

		cases, err := serializeValues(f, instances, root)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("packet %q: %v", pkt.DeclID, err))
			continue
		}

		pv, seen := groups[root.ID()]
		if !seen {
			pv = &PacketVectors{Packet: root.ID()}
			groups[root.ID()] = pv
			order = append(order, root.ID())
		}
		pv.Tests = append(pv.Tests, cases...)
	}

	out := make([]PacketVectors, len(order))
	for i, id := range order {
		out[i] = *groups[id]
	}
	return out, warnings, nil
}
