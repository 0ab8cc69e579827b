package staticfileserver

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

const listingTimeFormat = "2006-01-02 15:04"

// DirectoryEntry is one rendered row of a directory listing.
type DirectoryEntry struct {
	DisplayName string
	Href        string
	IsDir       bool
	Size        string
	ModTime     string
}

// RenderDirectoryListing builds the HTML index of dir. Links are absolute
// URL paths relative to root, so the page works wherever it is mounted.
// dir must be root or lie below it.
func RenderDirectoryListing(dir, root string) ([]byte, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, ErrAccessDenied
	}
	if rel == "." {
		rel = ""
	}
	rel = filepath.ToSlash(rel)

	entries, err := ListDirectory(dir, rel)
	if err != nil {
		return nil, err
	}

	title := html.EscapeString(webPath(rel, true))
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>Index of %s</title>\n", title)
	sb.WriteString("<style>\nbody { font-family: Arial, sans-serif; }\na { text-decoration: none; color: blue; }\na:hover { text-decoration: underline; }\n</style>\n")
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>Index of %s</h1>\n<hr>\n<pre>\n", title)
	fmt.Fprintf(&sb, "<a href=\"%s\">..</a>\n", html.EscapeString(parentHref(rel)))
	for _, e := range entries {
		fmt.Fprintf(&sb, "<a href=\"%s\">%s</a>  %s  %s\n", e.Href, e.DisplayName, e.Size, e.ModTime)
	}
	sb.WriteString("</pre>\n<hr>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

// ListDirectory returns the immediate children of dir in os.ReadDir order.
// rel is dir's slash-separated path below the root. Href and DisplayName
// are already HTML-escaped.
func ListDirectory(dir, rel string) ([]DirectoryEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &IoError{Op: "readdir", Path: dir, Err: err}
	}

	out := make([]DirectoryEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			return nil, &IoError{Op: "stat", Path: filepath.Join(dir, de.Name()), Err: err}
		}
		name := de.Name()
		childRel := path.Join(rel, name)
		size := "-"
		display := name
		if fi.IsDir() {
			display += "/"
		} else {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		out = append(out, DirectoryEntry{
			DisplayName: html.EscapeString(display),
			Href:        html.EscapeString(webPath(childRel, fi.IsDir())),
			IsDir:       fi.IsDir(),
			Size:        size,
			ModTime:     fi.ModTime().Format(listingTimeFormat),
		})
	}
	return out, nil
}

// webPath percent-encodes each segment of rel and makes it absolute.
func webPath(rel string, dir bool) string {
	if rel == "" {
		return "/"
	}
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	p := "/" + strings.Join(segments, "/")
	if dir {
		p += "/"
	}
	return p
}

func parentHref(rel string) string {
	if rel == "" {
		return "/"
	}
	parent := path.Dir(rel)
	if parent == "." {
		return "/"
	}
	return webPath(parent, true)
}
