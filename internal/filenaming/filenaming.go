// Package filenaming derives and de-collides destination filenames for
// admitted transfers, per spec.md §6: a name is taken from the caller's
// override, else the URL's path component, else a minted template file;
// whichever source wins, the name is adjusted until it clashes with
// neither the temp path nor the final path already on disk.
//
// Grounded on internal/util/paths/collision.go's ResolveCollisions
// (extension-preserved suffixing to de-collide concurrent destinations),
// generalized from a batch "insert FileID before extension" strategy to
// spec.md's sequential name_1, name_2, … probing against the filesystem.
package filenaming

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidFilename is returned when a caller-supplied filename fails the
// security filter (contains a path separator or is all dots).
var ErrInvalidFilename = errors.New("filenaming: invalid filename")

// Namer resolves a collision-free destination filename.
type Namer struct{}

// New returns a Namer. It holds no state; every call re-reads the
// filesystem, since collisions must be checked against whatever else has
// since claimed a name.
func New() *Namer { return &Namer{} }

// Resolve picks the destination filename for one admission. targetDir and
// tempPrefix are joined the same way record.Record.FinalPath/TempPath do;
// requestedName is the caller's override (targetFilename), which may be
// empty; sourceURL is used to derive a name when requestedName is empty.
func (n *Namer) Resolve(targetDir, tempPrefix, requestedName, sourceURL string) (string, error) {
	if requestedName != "" {
		if err := validateFilename(requestedName); err != nil {
			return "", err
		}
	}

	name := requestedName
	if name == "" {
		name = deriveFromURL(sourceURL)
	}
	if name == "" {
		name = mintTemplate()
	}

	return n.deconflict(targetDir, tempPrefix, name)
}

// validateFilename applies spec.md §6's security filter: no path
// separators, and not all dots (rejects ".", "..", "...").
func validateFilename(name string) error {
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, '\\') {
		return ErrInvalidFilename
	}
	if strings.Trim(name, ".") == "" {
		return ErrInvalidFilename
	}
	return nil
}

// deriveFromURL extracts the final path segment of a URL as a candidate
// filename, returning "" when the URL has no usable basename (empty or root
// path, or a segment that fails validation). A trailing slash is ignored, so
// "/a/b/" yields "b".
func deriveFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if validateFilename(base) != nil {
		return ""
	}
	return base
}

// mintTemplate produces a unique "fileXXXXXX"-style name when neither a
// caller override nor the URL yields anything usable.
func mintTemplate() string {
	var buf [6]byte
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed suffix rather than panic.
		return "file000000"
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = alphabet[int(b)%len(alphabet)]
	}
	return "file" + string(suffix)
}

// deconflict appends _1, _2, … (extension preserved) until name clashes
// with neither targetDir/name nor targetDir/tempPrefix/name.
func (n *Namer) deconflict(targetDir, tempPrefix, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 0; ; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		finalPath := filepath.Join(targetDir, candidate)
		tempPath := filepath.Join(targetDir, tempPrefix, candidate)
		if !exists(finalPath) && !exists(tempPath) {
			return candidate, nil
		}
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
