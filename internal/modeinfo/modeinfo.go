// Package modeinfo converts godrm mode-setting records into the pipeline's
// resource types.
package modeinfo

import (
	"bytes"

	"github.com/rmcsoft/godrm/mode"

	"github.com/rmcsoft/kmsgl"
)

// drm_connector_status and DRM_MODE_TYPE_PREFERRED.
const (
	connectionConnected    = 1
	connectionDisconnected = 2

	typePreferred = 1 << 3
)

// Connector converts a connector record. Connection states other than
// connected and disconnected map to kmsgl.UnknownConnection.
func Connector(c *mode.Connector) kmsgl.Connector {
	conn := kmsgl.Connector{
		ID:        c.ID,
		Type:      c.Type,
		EncoderID: c.EncoderID,
		Encoders:  append([]uint32(nil), c.Encoders...),
	}
	switch c.Connection {
	case connectionConnected:
		conn.State = kmsgl.Connected
	case connectionDisconnected:
		conn.State = kmsgl.Disconnected
	default:
		conn.State = kmsgl.UnknownConnection
	}
	for _, m := range c.Modes {
		conn.Modes = append(conn.Modes, Mode(m))
	}
	return conn
}

// Mode converts a mode record. The original record is kept in Raw so it can
// be handed back to SetCrtc unchanged.
func Mode(m mode.Info) kmsgl.Mode {
	name := m.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return kmsgl.Mode{
		Name:      string(name),
		Width:     int(m.Hdisplay),
		Height:    int(m.Vdisplay),
		Refresh:   int(m.Vrefresh),
		Preferred: m.Type&typePreferred != 0,
		Raw:       m,
	}
}
