// Package watcher watches an image folder and reports debounced batches of
// image changes, so `clipbridge index --watch` can rebuild the index.
//
// fsnotify is used when available; polling is the fallback for filesystems
// that do not deliver events (network mounts, some container volumes).
// Only the top level of the folder is watched, matching what clip_tool indexes.
package watcher
