package device

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"

	"warden/internal/fingerprint"
)

// PeerGatherer opens a throwaway peer connection purely to observe the ICE
// candidates the host can gather. No media or data is ever exchanged.
type PeerGatherer struct{}

func (PeerGatherer) Open(ctx context.Context, servers []string) (fingerprint.PeerSession, error) {
	var cfg webrtc.Configuration
	if len(servers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	s := &peerSession{pc: pc, lines: make(chan string, 32)}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			s.finish()
			return
		}
		s.send(c.ToJSON().Candidate)
	})

	if _, err := pc.CreateDataChannel("warden-probe", nil); err != nil {
		_ = s.Close()
		return nil, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type peerSession struct {
	pc    *webrtc.PeerConnection
	lines chan string

	mu   sync.Mutex
	done bool
}

func (s *peerSession) Candidates() <-chan string { return s.lines }

func (s *peerSession) send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.lines <- line:
	default:
	}
}

func (s *peerSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.lines)
	}
}

func (s *peerSession) Close() error {
	s.finish()
	return s.pc.Close()
}
