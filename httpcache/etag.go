package httpcache

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-flatwhite/cache"
)

var etagPattern = regexp.MustCompile(`^fw-(\d+)-([0-9a-f]+)-([0-9a-f]+)$`)

// ETag identifies a stored entry and the version of its payload.
type ETag struct {
	StoreID   int
	HashedKey string
	Checksum  string
}

// EntryETag builds the ETag of entry.
func EntryETag(entry *cache.Entry) ETag {
	return ETag{StoreID: entry.StoreID, HashedKey: entry.HashedKey(), Checksum: entry.Checksum()}
}

// String renders the quoted wire form "fw-{storeId}-{hashedKey}-{checksum}".
func (t ETag) String() string {
	return `"fw-` + strconv.Itoa(t.StoreID) + "-" + t.HashedKey + "-" + t.Checksum + `"`
}

// Matches reports whether t is the current version of entry.
func (t ETag) Matches(entry *cache.Entry) bool {
	return t.StoreID == entry.StoreID && t.HashedKey == entry.HashedKey() && t.Checksum == entry.Checksum()
}

// ParseETag parses one entity tag. Weak tags are accepted.
func ParseETag(s string) (ETag, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	m := etagPattern.FindStringSubmatch(s)
	if m == nil {
		return ETag{}, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return ETag{}, false
	}
	return ETag{StoreID: id, HashedKey: m[2], Checksum: m[3]}, true
}

// ParseIfNoneMatch returns the flatwhite tags listed in an If-None-Match
// header. Foreign tags and "*" are ignored.
func ParseIfNoneMatch(header string) []ETag {
	var tags []ETag
	for _, part := range strings.Split(header, ",") {
		if tag, ok := ParseETag(part); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}
