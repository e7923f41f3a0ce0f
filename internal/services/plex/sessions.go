package plex

import (
	"context"
	"net/http"
	"time"

	"tiercache/internal/config"
	"tiercache/internal/media"
)

// SessionGuard checks active playback sessions on the server.
type SessionGuard struct {
	client *Client
	token  string
}

// NewSessionGuard builds a guard from configuration.
func NewSessionGuard(cfg *config.Config, doer HTTPDoer) *SessionGuard {
	if doer == nil {
		doer = &http.Client{Timeout: time.Duration(cfg.Plex.RequestTimeout) * time.Second}
	}
	return &SessionGuard{client: NewClient(cfg.Plex.URL, doer), token: cfg.Plex.Token}
}

// Active reports whether logicalPath is being streamed. When the server
// cannot be queried the path is reported active along with the error.
func (g *SessionGuard) Active(ctx context.Context, logicalPath string) (bool, error) {
	var sessions mediaContainer
	if err := g.client.get(ctx, "/status/sessions", nil, g.token, &sessions); err != nil {
		return true, err
	}
	want := media.Identity(logicalPath)
	for _, v := range sessions.Videos {
		for _, m := range v.Media {
			for _, p := range m.Parts {
				if media.Identity(p.File) == want {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
