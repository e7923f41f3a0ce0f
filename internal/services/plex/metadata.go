package plex

import (
	"time"
)

type mediaContainer struct {
	Videos      []video     `xml:"Video"`
	Directories []directory `xml:"Directory"`
}

type video struct {
	RatingKey            string      `xml:"ratingKey,attr"`
	GUID                 string      `xml:"guid,attr"`
	Type                 string      `xml:"type,attr"`
	Title                string      `xml:"title,attr"`
	GrandparentRatingKey string      `xml:"grandparentRatingKey,attr"`
	ParentIndex          int         `xml:"parentIndex,attr"`
	Index                int         `xml:"index,attr"`
	ViewCount            int         `xml:"viewCount,attr"`
	LastViewedAt         int64       `xml:"lastViewedAt,attr"`
	ViewedAt             int64       `xml:"viewedAt,attr"`
	AddedAt              int64       `xml:"addedAt,attr"`
	WatchlistedAt        int64       `xml:"watchlistedAt,attr"`
	Media                []mediaPart `xml:"Media"`
}

type mediaPart struct {
	Parts []part `xml:"Part"`
}

type part struct {
	File string `xml:"file,attr"`
	Size int64  `xml:"size,attr"`
}

type directory struct {
	RatingKey string `xml:"ratingKey,attr"`
	GUID      string `xml:"guid,attr"`
	Type      string `xml:"type,attr"`
	Title     string `xml:"title,attr"`
	AddedAt   int64  `xml:"addedAt,attr"`
	// WatchlistedAt is only set on discover watchlist entries.
	WatchlistedAt int64 `xml:"watchlistedAt,attr"`
}

// file returns the first part of the first media version.
func (v video) file() (string, int64, bool) {
	for _, m := range v.Media {
		for _, p := range m.Parts {
			if p.File != "" {
				return p.File, p.Size, true
			}
		}
	}
	return "", 0, false
}

func (v video) episodeBefore(other video) bool {
	if v.ParentIndex != other.ParentIndex {
		return v.ParentIndex < other.ParentIndex
	}
	return v.Index < other.Index
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
