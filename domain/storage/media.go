package storage

import (
	"mime"
	"path"
	"strings"
)

// MediaType is the coarse classification used by listings
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaOther MediaType = "other"
)

// MediaFile is one entry of a folder listing.
// PreviewURL points at the transcoded rendition for video when one exists.
type MediaFile struct {
	ID           string
	Name         string
	Type         MediaType
	Size         int64
	PreviewURL   string
	ThumbnailURL string
	FullFileURL  string
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
	".heic": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".avi": true,
	".mkv": true, ".webm": true, ".mpeg": true, ".mpg": true,
	".wmv": true, ".3gp": true,
}

// videoMIMETypes triggers the transcode side-channel on upload
var videoMIMETypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/webm":       true,
	"video/mpeg":       true,
	"video/x-ms-wmv":   true,
	"video/3gpp":       true,
	"video/x-m4v":      true,
}

// Classify returns the media type of a file name by its extension
func Classify(name string) MediaType {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExtensions[ext]:
		return MediaImage
	case videoExtensions[ext]:
		return MediaVideo
	default:
		return MediaOther
	}
}

// IsVideoMIME reports whether a MIME type belongs to the fixed video set
func IsVideoMIME(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	return videoMIMETypes[strings.ToLower(mt)]
}

// ContentTypeFor guesses a MIME type from a file name
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".heic":
		return "image/heic"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
