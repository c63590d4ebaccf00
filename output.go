package kmsgl

import (
	"fmt"
	"strings"
)

// ModePolicy selects a mode among the ones a connector advertises.
type ModePolicy int

const (
	// ModeFirst takes the first advertised mode.
	ModeFirst ModePolicy = iota
	// ModePreferred takes the mode the sink flags as preferred, falling back
	// to the first one.
	ModePreferred
)

// ParseModePolicy parses "first" or "preferred".
func ParseModePolicy(s string) (ModePolicy, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return ModeFirst, nil
	case "preferred":
		return ModePreferred, nil
	default:
		return 0, fmt.Errorf("unknown mode policy %q", s)
	}
}

func (p ModePolicy) String() string {
	if p == ModePreferred {
		return "preferred"
	}
	return "first"
}

// Output is a usable (connector, mode, CRTC) triple.
type Output struct {
	Connector Connector
	Mode      Mode
	Crtc      Crtc
}

// SelectOutput picks the first connected connector that advertises at least
// one mode, a mode according to policy and a CRTC that can drive it.
func SelectOutput(res *Resources, policy ModePolicy) (Output, error) {
	for _, conn := range res.Connectors {
		if conn.State != Connected || len(conn.Modes) == 0 {
			continue
		}
		crtc, ok := findCrtc(res, conn)
		if !ok {
			return Output{}, NewError(NoCrtcAvailable, "select output",
				fmt.Sprintf("connector %d", conn.ID), nil)
		}
		return Output{
			Connector: conn,
			Mode:      pickMode(conn.Modes, policy),
			Crtc:      crtc,
		}, nil
	}
	return Output{}, NewError(NoConnectedOutput, "select output", "", nil)
}

func pickMode(modes []Mode, policy ModePolicy) Mode {
	if policy == ModePreferred {
		for _, m := range modes {
			if m.Preferred {
				return m
			}
		}
	}
	return modes[0]
}

// findCrtc tries the CRTC already bound to the connector's encoder first to
// avoid a full modeset, then any CRTC its encoders can reach, then the first
// CRTC of the device.
func findCrtc(res *Resources, conn Connector) (Crtc, bool) {
	if enc, ok := res.encoder(conn.EncoderID); ok && enc.CrtcID != 0 {
		for _, c := range res.Crtcs {
			if c.ID == enc.CrtcID {
				return c, true
			}
		}
	}
	for _, id := range conn.Encoders {
		enc, ok := res.encoder(id)
		if !ok {
			continue
		}
		for i, c := range res.Crtcs {
			if i < 32 && enc.PossibleCrtcs&(1<<uint(i)) != 0 {
				return c, true
			}
		}
	}
	if len(res.Crtcs) > 0 {
		return res.Crtcs[0], true
	}
	return Crtc{}, false
}
