package staticfileserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// sniffLen bounds how much of a file is inspected for magic bytes.
const sniffLen = 262

const defaultOctetStreamMimeType = "application/octet-stream"

// defaultMimeTypes maps extensions to bare media types. It is consulted
// before mime.TypeByExtension so results do not depend on the host's
// mime.types files.
var defaultMimeTypes = map[string]string{
	".aac":    "audio/aac",
	".abw":    "application/x-abiword",
	".apng":   "image/apng",
	".arc":    "application/x-freearc",
	".avif":   "image/avif",
	".avi":    "video/x-msvideo",
	".azw":    "application/vnd.amazon.ebook",
	".bin":    "application/octet-stream",
	".bmp":    "image/bmp",
	".bz":     "application/x-bzip",
	".bz2":    "application/x-bzip2",
	".cda":    "application/x-cdf",
	".csh":    "application/x-csh",
	".css":    "text/css",
	".csv":    "text/csv",
	".doc":    "application/msword",
	".docx":   "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":    "application/vnd.ms-fontobject",
	".epub":   "application/epub+zip",
	".gz":     "application/gzip",
	".gif":    "image/gif",
	".htm":    "text/html",
	".html":   "text/html",
	".ico":    "image/vnd.microsoft.icon",
	".ics":    "text/calendar",
	".jar":    "application/java-archive",
	".jpeg":   "image/jpeg",
	".jpg":    "image/jpeg",
	".js":     "text/javascript",
	".json":   "application/json",
	".jsonld": "application/ld+json",
	".mid":    "audio/midi",
	".midi":   "audio/midi",
	".mjs":    "text/javascript",
	".mp3":    "audio/mpeg",
	".mp4":    "video/mp4",
	".mpeg":   "video/mpeg",
	".mpkg":   "application/vnd.apple.installer+xml",
	".odp":    "application/vnd.oasis.opendocument.presentation",
	".ods":    "application/vnd.oasis.opendocument.spreadsheet",
	".odt":    "application/vnd.oasis.opendocument.text",
	".oga":    "audio/ogg",
	".ogv":    "video/ogg",
	".ogx":    "application/ogg",
	".opus":   "audio/opus",
	".otf":    "font/otf",
	".png":    "image/png",
	".pdf":    "application/pdf",
	".php":    "application/x-httpd-php",
	".ppt":    "application/vnd.ms-powerpoint",
	".pptx":   "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rar":    "application/vnd.rar",
	".rtf":    "application/rtf",
	".sh":     "application/x-sh",
	".svg":    "image/svg+xml",
	".tar":    "application/x-tar",
	".tif":    "image/tiff",
	".tiff":   "image/tiff",
	".ts":     "video/mp2t",
	".ttf":    "font/ttf",
	".txt":    "text/plain",
	".vsd":    "application/vnd.visio",
	".wav":    "audio/wav",
	".weba":   "audio/webm",
	".webm":   "video/webm",
	".webp":   "image/webp",
	".woff":   "font/woff",
	".woff2":  "font/woff2",
	".xhtml":  "application/xhtml+xml",
	".xls":    "application/vnd.ms-excel",
	".xlsx":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":    "application/xml",
	".xul":    "application/vnd.mozilla.xul+xml",
	".zip":    "application/zip",
	".3gp":    "video/3gpp",
	".3g2":    "video/3gpp2",
	".7z":     "application/x-7z-compressed",
}

// MimeTypeResolver determines the Content-Type of served files.
type MimeTypeResolver struct {
	customMimeTypes map[string]string
}

// NewMimeTypeResolver merges the inline mapping with the mapping loaded from
// mimeTypesPath (if non-empty); entries from the file win.
func NewMimeTypeResolver(inline map[string]string, mimeTypesPath string) (*MimeTypeResolver, error) {
	resolver := &MimeTypeResolver{customMimeTypes: make(map[string]string)}
	for ext, mimeType := range inline {
		resolver.customMimeTypes[strings.ToLower(ext)] = mimeType
	}
	if mimeTypesPath != "" {
		fileMimeTypes, err := LoadCustomMimeTypesFromFile(mimeTypesPath)
		if err != nil {
			return nil, err
		}
		for ext, mimeType := range fileMimeTypes {
			resolver.customMimeTypes[ext] = mimeType
		}
	}
	return resolver, nil
}

// Classify returns the MIME type for a file named name with the given
// content. A recognized magic-byte signature wins over the extension.
func (r *MimeTypeResolver) Classify(name string, content []byte) string {
	if mimeType := sniff(content); mimeType != "" {
		return mimeType
	}
	return r.GetMimeType(name)
}

// sniff matches known binary signatures; text formats never match.
func sniff(content []byte) string {
	if len(content) > sniffLen {
		content = content[:sniffLen]
	}
	kind, err := filetype.Match(content)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// GetMimeType determines the MIME type from the extension of filePath:
// custom mappings, then the built-in table, then mime.TypeByExtension,
// then application/octet-stream.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	return ResolveMimeType(filepath.Ext(filePath), r.customMimeTypes)
}

// LoadCustomMimeTypesFromFile reads a JSON object mapping extensions to MIME
// types. Extensions must start with '.', values must be non-empty; keys are lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsedMimeTypes map[string]string
	if err := json.Unmarshal(data, &parsedMimeTypes); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	customMimeTypes := make(map[string]string, len(parsedMimeTypes))
	for ext, mimeType := range parsedMimeTypes {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if mimeType == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		customMimeTypes[strings.ToLower(ext)] = mimeType
	}
	return customMimeTypes, nil
}

// ResolveMimeType maps an extension (with leading dot) to a MIME type.
func ResolveMimeType(extension string, customUserMappings map[string]string) string {
	if extension == "" {
		return defaultOctetStreamMimeType
	}
	ext := strings.ToLower(extension)

	if mimeType, ok := customUserMappings[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		// Drop parameters such as "; charset=utf-8".
		if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
			return mediaType
		}
		return mimeType
	}
	return defaultOctetStreamMimeType
}
