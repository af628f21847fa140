package server

import (
	"github.com/goccy/go-json"
	"github.com/jpalmerr/pulseproxy/internal/store"
)

// renderFrames encodes the health and stats frames for snap.
func renderFrames(snap store.Snapshot) [][]byte {
	frames := make([][]byte, 0, 2)
	for _, f := range []PushFrame{
		{Type: FrameHealth, Data: buildHealth(snap)},
		{Type: FrameStats, Data: buildStats(snap)},
	} {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

// currentFrames renders the cached snapshot, or nothing before the first round.
func (s *Server) currentFrames() [][]byte {
	snap, ok := s.store.Latest()
	if !ok {
		return nil
	}
	return renderFrames(snap)
}
