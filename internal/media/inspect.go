// Package media inspects input files and converts them into the canonical
// mono 16-bit PCM WAV that the recognition backend reads.
package media

import (
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
)

// Inspect reads an input file without modifying it. The media type is
// detected from magic bytes, not the extension.
func Inspect(path string) (domain.InputRef, error) {
	if strings.TrimSpace(path) == "" {
		return domain.InputRef{}, fmt.Errorf("%w: input media path is required", domain.ErrConversion)
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.InputRef{}, fmt.Errorf("%w: cannot access input media %s: %w", domain.ErrConversion, path, err)
	}
	if info.IsDir() {
		return domain.InputRef{}, fmt.Errorf("%w: input media %s is a directory", domain.ErrConversion, path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.InputRef{}, fmt.Errorf("%w: detect media type of %s: %w", domain.ErrConversion, path, err)
	}
	if !IsMediaType(mtype.String()) {
		return domain.InputRef{}, fmt.Errorf("%w: unsupported media type %s for %s", domain.ErrConversion, mtype.String(), path)
	}

	ref := domain.InputRef{
		Path:      path,
		MediaType: mtype.String(),
		Size:      info.Size(),
	}
	readTags(&ref)
	return ref, nil
}

// IsMediaType reports whether a MIME type is audio or video content.
func IsMediaType(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(base)
	return strings.HasPrefix(base, "audio/") ||
		strings.HasPrefix(base, "video/") ||
		base == "application/ogg"
}

// readTags fills title and artist when the container carries tags.
func readTags(ref *domain.InputRef) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil {
		L_debug("media: no tags", "file", ref.Path, "error", err)
		return
	}
	ref.Title = strings.TrimSpace(md.Title())
	ref.Artist = strings.TrimSpace(md.Artist())
}
