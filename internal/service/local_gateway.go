package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/session"
)

// Track is a finished music track held for a hosted session. Archived
// tracks live in object storage and carry no bytes.
type Track struct {
	Data      []byte
	Key       string
	URL       string
	CreatedAt time.Time
}

// Archived reports whether the track was stored in object storage.
func (t *Track) Archived() bool {
	return t.Key != ""
}

// Filename is the download name offered to the user.
func (t *Track) Filename() string {
	return fmt.Sprintf("lofi-session-%d.mp3", t.CreatedAt.UnixMilli())
}

// LocalGateway runs both adapters in-process for server-hosted sessions.
type LocalGateway struct {
	images        *ImageService
	music         *MusicService
	archive       client.TrackArchive
	maxTrackBytes int64
}

func NewLocalGateway(images *ImageService, music *MusicService, archive client.TrackArchive, maxTrackBytes int64) *LocalGateway {
	if maxTrackBytes <= 0 {
		maxTrackBytes = 32 << 20
	}
	return &LocalGateway{
		images:        images,
		music:         music,
		archive:       archive,
		maxTrackBytes: maxTrackBytes,
	}
}

// ForSession returns a session.Gateway whose finished tracks are handed to
// keep. The returned MusicRef points at the session's audio route.
func (g *LocalGateway) ForSession(id string, keep func(*Track)) session.Gateway {
	return &sessionGateway{parent: g, id: id, keep: keep}
}

type sessionGateway struct {
	parent *LocalGateway
	id     string
	keep   func(*Track)
}

func (g *sessionGateway) GenerateImage(ctx context.Context, req session.ImageRequest) (*session.ImageResult, error) {
	return g.parent.images.Generate(ctx, req)
}

func (g *sessionGateway) GenerateMusic(ctx context.Context, req session.MusicRequest) (*session.MusicRef, error) {
	body, err := g.parent.music.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	limit := g.parent.maxTrackBytes
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "Music generation failed", Details: err.Error()}
	}
	if int64(len(data)) > limit {
		return nil, &session.UpstreamError{Code: session.CodeUnknown, Message: "Music generation failed", Details: fmt.Sprintf("track exceeds %d bytes", limit)}
	}

	track := &Track{Data: data, CreatedAt: time.Now()}
	ref := &session.MusicRef{StreamURL: fmt.Sprintf("/api/sessions/%s/audio", g.id)}

	if archive := g.parent.archive; archive != nil {
		if key, err := archive.Archive(ctx, g.id, track.Filename(), data); err != nil {
			log.Printf("Warning: failed to archive track for session %s: %v", g.id, err)
		} else {
			track.Key, track.Data = key, nil
			ref.SavedTo = key
			if archive.Public() {
				if url, err := archive.Link(ctx, key, 0); err == nil {
					track.URL, ref.SavedTo, ref.StreamURL = url, url, url
				}
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	g.keep(track)
	return ref, nil
}
