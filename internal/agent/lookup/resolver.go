// Package lookup resolves matched request records to their source documents
// and assembles the combined context handed to answer synthesis.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rfi-assistant/server/internal/dataset"
)

// Document is what a resolver found for one record.
type Document struct {
	Ref  string
	Text string
}

// Resolver locates the document behind a record. A record without a
// document resolves to an empty Document and no error.
type Resolver interface {
	Resolve(ctx context.Context, rec dataset.Record) (Document, error)
}

// NopResolver reports the record's link and reads nothing.
type NopResolver struct {
	LinkColumn string
}

func (r NopResolver) Resolve(_ context.Context, rec dataset.Record) (Document, error) {
	return Document{Ref: rec.String(r.LinkColumn)}, nil
}

// textExtensions are the document files a folder resolver reads.
var textExtensions = map[string]bool{".txt": true, ".md": true, ".csv": true}

// FolderResolver maps a record to a folder under Root named after the last
// element of its link (or its id) and reads the text files inside.
type FolderResolver struct {
	Root       string
	IDColumn   string
	LinkColumn string
	MaxBytes   int
}

func (r FolderResolver) Resolve(ctx context.Context, rec dataset.Record) (Document, error) {
	link := rec.String(r.LinkColumn)
	name := lastElement(link)
	if name == "" {
		name = strings.TrimSpace(rec.String(r.IDColumn))
	}
	if name == "" || r.Root == "" {
		return Document{Ref: link}, nil
	}

	dir := filepath.Join(r.Root, filepath.Base(name))
	ref := link
	if ref == "" {
		ref = dir
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{Ref: ref}, nil
	}
	if err != nil {
		return Document{Ref: ref}, fmt.Errorf("read folder %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && textExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return Document{Ref: ref}, err
		}
		raw, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return Document{Ref: ref}, fmt.Errorf("read %s: %w", n, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(string(raw)))
		if r.MaxBytes > 0 && b.Len() >= r.MaxBytes {
			break
		}
	}

	text := b.String()
	if r.MaxBytes > 0 && len(text) > r.MaxBytes {
		text = text[:r.MaxBytes]
	}
	return Document{Ref: ref, Text: text}, nil
}

// lastElement handles both slash styles since links come from Windows shares.
func lastElement(link string) string {
	link = strings.TrimRight(strings.TrimSpace(link), `\/`)
	if i := strings.LastIndexAny(link, `\/`); i >= 0 {
		return link[i+1:]
	}
	return link
}
