package domain

import (
	"sync"

	"github.com/google/uuid"
)

// MediaTrack is one live inbound track. Stop releases the underlying
// receiver and must be called explicitly.
type MediaTrack interface {
	ID() string
	Kind() MediaKind
	Stats() TrackStats
	Stop()
}

type TrackStats struct {
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
	KeyFrames uint64 `json:"key_frames"`
	Bound     bool   `json:"bound"`
	Ended     bool   `json:"ended"`
}

// MediaStream is a read-only grouping of tracks published to the view layer.
type MediaStream struct {
	id     string
	tracks []MediaTrack

	stopOnce sync.Once
}

func NewMediaStream(tracks ...MediaTrack) *MediaStream {
	s := &MediaStream{id: uuid.NewString()}
	for _, t := range tracks {
		if t != nil {
			s.tracks = append(s.tracks, t)
		}
	}
	return s
}

func (s *MediaStream) ID() string {
	return s.id
}

// Tracks returns a copy of the stream's tracks.
func (s *MediaStream) Tracks() []MediaTrack {
	out := make([]MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Stop stops every track in the stream. Safe to call more than once.
func (s *MediaStream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
	})
}

func (s *MediaStream) Info() MediaStreamInfo {
	info := MediaStreamInfo{ID: s.id, Tracks: make([]TrackInfo, 0, len(s.tracks))}
	for _, t := range s.tracks {
		info.Tracks = append(info.Tracks, TrackInfo{
			ID:         t.ID(),
			Kind:       t.Kind(),
			TrackStats: t.Stats(),
		})
	}
	return info
}

type MediaStreamInfo struct {
	ID     string      `json:"id"`
	Tracks []TrackInfo `json:"tracks"`
}

type TrackInfo struct {
	ID   string    `json:"id"`
	Kind MediaKind `json:"kind"`
	TrackStats
}
