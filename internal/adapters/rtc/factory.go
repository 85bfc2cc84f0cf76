package rtc

import (
	"fmt"
	"strings"

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

// ICE modes.
const (
	ICEModeSTUN = "stun"
	ICEModeTURN = "turn"
	// ICEModeNone uses host candidates only (LAN and tests).
	ICEModeNone = "none"
)

type ICEConfig struct {
	Mode         string
	STUNURLs     []string
	TURNURLs     []string
	TURNUsername string
	TURNPassword string
}

// Servers builds the ICE server list for the configured mode.
func (c ICEConfig) Servers() ([]webrtc.ICEServer, error) {
	stun := c.STUNURLs
	if len(stun) == 0 {
		stun = []string{DefaultSTUN}
	}
	switch strings.ToLower(c.Mode) {
	case "", ICEModeSTUN:
		return []webrtc.ICEServer{{URLs: stun}}, nil
	case ICEModeTURN:
		if len(c.TURNURLs) == 0 {
			return nil, fmt.Errorf("ice mode turn needs at least one turn url")
		}
		return []webrtc.ICEServer{
			{URLs: stun},
			{URLs: c.TURNURLs, Username: c.TURNUsername, Credential: c.TURNPassword},
		}, nil
	case ICEModeNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown ice mode %q", c.Mode)
}

// Factory creates pion peer connections sharing one API instance.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

type Option func(*webrtc.SettingEngine)

// WithLoopback lets ICE use loopback candidates.
func WithLoopback() Option {
	return func(s *webrtc.SettingEngine) { s.SetIncludeLoopbackCandidate(true) }
}

func NewFactory(ice ICEConfig, opts ...Option) (*Factory, error) {
	servers, err := ice.Servers()
	if err != nil {
		return nil, err
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	for _, o := range opts {
		o(&se)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se))
	return &Factory{api: api, cfg: webrtc.Configuration{ICEServers: servers}}, nil
}

func (f *Factory) NewConnection(remote domain.UserID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newConnection(pc, remote), nil
}
