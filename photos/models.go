// Package photos lists a Google Photos library, downloads its media items
// and drives incremental sync runs against a progress ledger.
package photos

import (
	"strconv"
	"strings"
)

// Kind distinguishes photos from videos.
type Kind int

const (
	// KindPhoto is any item whose MIME type is not a video type.
	KindPhoto Kind = iota
	// KindVideo is an item whose MIME type contains "video".
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "photo"
}

// MediaItem is one entry of the remote library.
type MediaItem struct {
	// ID is the opaque, stable identifier assigned by the library.
	ID string `json:"id"`
	// Filename is the original filename, possibly empty.
	Filename string `json:"filename"`
	// MimeType is the content type reported by the library.
	MimeType string `json:"mimeType"`
	// BaseURL is a short-lived URL the content is fetched from.
	BaseURL string `json:"baseUrl"`
	// Metadata carries the optional creation time.
	Metadata MediaMetadata `json:"mediaMetadata"`

	// LocalName is the name the item is stored under; see AssignLocalNames.
	LocalName string `json:"-"`
}

// MediaMetadata is the subset of item metadata photosync reads.
type MediaMetadata struct {
	CreationTime string `json:"creationTime,omitempty"`
}

// Kind derives the item kind from its MIME type.
func (m MediaItem) Kind() Kind {
	if strings.Contains(m.MimeType, "video") {
		return KindVideo
	}
	return KindPhoto
}

// ContentURL returns the URL that serves the original bytes: "=dv" for
// videos and "=d" for everything else.
func (m MediaItem) ContentURL() string {
	if m.Kind() == KindVideo {
		return m.BaseURL + "=dv"
	}
	return m.BaseURL + "=d"
}

// Name returns the local filename: LocalName when assigned, otherwise the
// sanitized remote filename, otherwise item_<id>.
func (m MediaItem) Name() string {
	if m.LocalName != "" {
		return m.LocalName
	}
	return baseName(m)
}

func baseName(m MediaItem) string {
	name := sanitizeFilename(m.Filename)
	if name == "" || name == "." || name == ".." {
		return "item_" + sanitizeFilename(m.ID)
	}
	return name
}

// Collision policies.
const (
	// CollisionSuffix stores every item of a shared filename as
	// <stem>_<id><ext>, adding _2, _3 and so on if that name is taken too.
	CollisionSuffix = "suffix"
	// CollisionOverwrite stores items under their filename as-is; the last
	// one written wins.
	CollisionOverwrite = "overwrite"
)

// AssignLocalNames sets LocalName on every item. Names are compared
// case-insensitively so the result is stable on case-folding filesystems.
// Under CollisionSuffix every assigned name is distinct: filenames used by
// a single item are kept and reserved first, then shared ones are suffixed
// in listing order.
func AssignLocalNames(items []MediaItem, policy string) {
	if policy == CollisionOverwrite {
		for i := range items {
			items[i].LocalName = baseName(items[i])
		}
		return
	}

	counts := make(map[string]int, len(items))
	for i := range items {
		counts[strings.ToLower(baseName(items[i]))]++
	}

	taken := make(map[string]bool, len(items))
	for i := range items {
		name := baseName(items[i])
		if key := strings.ToLower(name); counts[key] == 1 {
			items[i].LocalName = name
			taken[key] = true
		}
	}

	for i := range items {
		name := baseName(items[i])
		if counts[strings.ToLower(name)] == 1 {
			continue
		}
		candidate := suffixed(name, items[i].ID, 0)
		for n := 2; taken[strings.ToLower(candidate)]; n++ {
			candidate = suffixed(name, items[i].ID, n)
		}
		taken[strings.ToLower(candidate)] = true
		items[i].LocalName = candidate
	}
}

// suffixed inserts the sanitized id, and n when positive, before the
// extension of name.
func suffixed(name, id string, n int) string {
	tag := sanitizeFilename(id)
	if n > 0 {
		tag += "_" + strconv.Itoa(n)
	}
	stem, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		stem, ext = name[:dot], name[dot:]
	}
	return stem + "_" + tag + ext
}

// sanitizeFilename replaces characters that are path separators or invalid
// in filenames on common filesystems.
func sanitizeFilename(s string) string {
	replacements := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\x00"}
	result := strings.TrimSpace(s)
	for _, char := range replacements {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}
