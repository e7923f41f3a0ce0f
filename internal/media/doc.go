// Package media defines the per-run media item model shared by the feed,
// planner, executor, and auditor, plus subtitle discovery next to a media
// file.
package media
