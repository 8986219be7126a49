package lookup

import (
	"context"
	"fmt"
	"strings"

	"github.com/rfi-assistant/server/internal/agent/model"
	"github.com/rfi-assistant/server/internal/dataset"
	logx "github.com/rfi-assistant/server/pkg/logger"
)

// maxMatches bounds how many records are expanded into context.
const maxMatches = 20

type Lookup struct {
	resolver   Resolver
	idColumn   string
	linkColumn string
}

func New(resolver Resolver, cfg model.DatasetConfig) *Lookup {
	if resolver == nil {
		resolver = NopResolver{LinkColumn: cfg.LinkColumn}
	}
	return &Lookup{resolver: resolver, idColumn: cfg.IDColumn, linkColumn: cfg.LinkColumn}
}

// Combine renders every match as a numbered block with its fields and any
// document text, and returns the matching source list. A resolver failure
// keeps the record's fields and is logged.
func (l *Lookup) Combine(ctx context.Context, matches []dataset.Record) (string, []model.Source) {
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > maxMatches {
		logx.Warn().Int("matches", len(matches)).Int("max", maxMatches).Msg("Lookup matches capped")
		matches = matches[:maxMatches]
	}

	var b strings.Builder
	sources := make([]model.Source, 0, len(matches))
	for i, rec := range matches {
		idx := i + 1
		doc, err := l.resolver.Resolve(ctx, rec)
		if err != nil {
			logx.Warn().Err(err).Str("record", rec.String(l.idColumn)).Msg("Document resolve failed")
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] RFI %s\n", idx, rec.String(l.idColumn))
		for _, k := range rec.Keys() {
			if v := rec.String(k); v != "" {
				fmt.Fprintf(&b, "%s: %s\n", k, v)
			}
		}
		if doc.Text != "" {
			b.WriteString("Document:\n")
			b.WriteString(doc.Text)
			b.WriteByte('\n')
		}

		ref := doc.Ref
		if ref == "" {
			ref = rec.String(l.linkColumn)
		}
		sources = append(sources, model.Source{
			Index: idx,
			Label: "RFI " + rec.String(l.idColumn),
			Ref:   ref,
		})
	}

	logx.Debug().Int("matches", len(matches)).Int("context_bytes", b.Len()).Msg("Lookup context combined")
	return strings.TrimRight(b.String(), "\n"), sources
}
