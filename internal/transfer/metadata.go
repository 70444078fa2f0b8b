package transfer

import (
	"bytes"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// assetMetadata extracts camera and capture-date EXIF fields from an image
// for the upload's metadata. Images without EXIF yield an empty map.
func assetMetadata(data []byte) map[string]any {
	meta := map[string]any{}
	if len(data) == 0 {
		return meta
	}

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Trace().Err(err).Msg("No EXIF metadata in source image")
		return meta
	}

	if cameraMake := strings.TrimSpace(exifData.Make); cameraMake != "" {
		meta["cameraMake"] = cameraMake
	}
	if model := strings.TrimSpace(exifData.Model); model != "" {
		meta["cameraModel"] = model
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			meta["dateTaken"] = t.UTC().Format(time.RFC3339)
			break
		}
	}

	log.Debug().Int("fields", len(meta)).Msg("Source image metadata extracted")
	return meta
}
