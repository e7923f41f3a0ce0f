// Package plex adapts a Plex Media Server to the cache engine.
//
// Feed implements the media index provider: each user's On Deck list plus
// the next unwatched episodes of each show, the user's watchlist resolved
// against the local library, and recently watched items as consumption
// signals. SessionGuard reports whether a file is being played so restores
// never pull a file out from under an active stream.
//
// All requests go through Client, which speaks the server's XML API and
// accepts any HTTPDoer so tests can use httptest servers.
package plex
