package rtc

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/pion/webrtc/v4"
)

func TestICEServers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ICEConfig
		want    int
		wantErr bool
	}{
		{"default stun", ICEConfig{}, 1, false},
		{"explicit stun", ICEConfig{Mode: "stun", STUNURLs: []string{"stun:a:3478", "stun:b:3478"}}, 1, false},
		{"turn", ICEConfig{Mode: "TURN", TURNURLs: []string{"turn:t:3478"}, TURNUsername: "u", TURNPassword: "p"}, 2, false},
		{"turn without urls", ICEConfig{Mode: "turn"}, 0, true},
		{"none", ICEConfig{Mode: "none"}, 0, false},
		{"unknown", ICEConfig{Mode: "carrier-pigeon"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Servers()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("servers = %+v", got)
			}
		})
	}
	got, _ := ICEConfig{}.Servers()
	if got[0].URLs[0] != DefaultSTUN {
		t.Fatalf("default = %v", got[0].URLs)
	}
}

type endpoint struct {
	conn      *Connection
	mu        sync.Mutex
	cands     []webrtc.ICECandidateInit
	connected chan struct{}
	once      sync.Once
}

func newEndpoint(t *testing.T, f *Factory, remote string) *endpoint {
	t.Helper()
	mc, err := f.NewConnection(domain.UserID(remote))
	if err != nil {
		t.Fatal(err)
	}
	e := &endpoint{conn: mc.(*Connection), connected: make(chan struct{})}
	e.conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		e.mu.Lock()
		e.cands = append(e.cands, ci)
		e.mu.Unlock()
	})
	e.conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			e.once.Do(func() { close(e.connected) })
		}
	})
	t.Cleanup(func() { _ = e.conn.Close() })
	return e
}

func (e *endpoint) candidates() []webrtc.ICECandidateInit {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.cands
	e.cands = nil
	return out
}

func TestLoopbackNegotiation(t *testing.T) {
	f, err := NewFactory(ICEConfig{Mode: ICEModeNone}, WithLoopback())
	if err != nil {
		t.Fatal(err)
	}
	a, b := newEndpoint(t, f, "b"), newEndpoint(t, f, "a")

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.conn.AddTrack(track); err != nil {
		t.Fatal(err)
	}

	offer, err := a.conn.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer lacks audio section:\n%s", offer.SDP)
	}
	answer, err := b.conn.ApplyOffer(offer)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %s", answer.Type)
	}
	if err := a.conn.ApplyAnswer(answer); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for {
		for _, c := range a.candidates() {
			if err := b.conn.AddICECandidate(c); err != nil {
				t.Fatal(err)
			}
		}
		for _, c := range b.candidates() {
			if err := a.conn.AddICECandidate(c); err != nil {
				t.Fatal(err)
			}
		}
		select {
		case <-a.connected:
			select {
			case <-b.connected:
				return
			default:
			}
		case <-deadline:
			t.Fatal("peers did not connect")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := NewFactory(ICEConfig{Mode: ICEModeNone})
	if err != nil {
		t.Fatal(err)
	}
	mc, err := f.NewConnection("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := mc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mc.Close(); err != nil {
		t.Fatal(err)
	}
}
