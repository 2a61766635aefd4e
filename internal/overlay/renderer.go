// internal/overlay/renderer.go
package overlay

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"hash/fnv"
	"html/template"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/lifecycle"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/page"
	"github.com/zacharyisnthere/who-owns-you/internal/resolver"
)

// ElementID is the id of the single overlay element in the host page.
const ElementID = "woy-info-card"

//go:embed templates/card.html.tmpl
var templateFS embed.FS

var cardTemplate = template.Must(template.New("card.html.tmpl").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	ParseFS(templateFS, "templates/card.html.tmpl"))

type cardData struct {
	Matched bool
	Class   string
	Label   string
	Owner   string
	Date    string
	Notes   string
	Sources []string
}

// Markup renders the card for rec, or the no-match card when rec is nil.
func Markup(rec *ownership.Record) (string, error) {
	data := cardData{}
	if rec != nil {
		data = cardData{
			Matched: true,
			Class:   rec.TypeClass(),
			Label:   rec.TypeLabel(),
			Owner:   rec.OwnerName(),
			Date:    ownership.FormatAcquisitionDate(rec.AcquisitionDate),
			Notes:   strings.TrimSpace(rec.Notes),
		}
		for _, u := range rec.SourceURLs {
			if u = strings.TrimSpace(u); u != "" {
				data.Sources = append(data.Sources, u)
			}
		}
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute card template: %w", err)
	}
	return buf.String(), nil
}

// Fingerprint keys markup so the page can recognise an identical render.
func Fingerprint(markup string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(markup))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Renderer places and removes the overlay for one page. It keeps the
// registry handle of the element it placed, so a drain removes it. Not safe
// for concurrent use.
type Renderer struct {
	doc       page.Document
	selectors config.SelectorsConfig
	logger    *zap.Logger
	node      lifecycle.Handle
}

// NewRenderer creates a renderer for doc.
func NewRenderer(doc page.Document, selectors config.SelectorsConfig, logger *zap.Logger) *Renderer {
	return &Renderer{doc: doc, selectors: selectors, logger: logger.Named("overlay")}
}

// Anchor returns the overlay anchor selector for p, or "" for Unsupported.
func (r *Renderer) Anchor(p resolver.PageType) string {
	switch p {
	case resolver.SingleItemView:
		return r.selectors.SingleItem.Anchor
	case resolver.ShortFormView:
		return r.selectors.ShortForm.Anchor
	case resolver.CollectionView:
		return r.selectors.Collection.Anchor
	default:
		return ""
	}
}

// Render replaces the overlay with the card for rec. On an Unsupported page
// it only removes the overlay. The placed element is registered in reg as a
// Node entry; the previous entry is dropped without a second removal since
// the page replaced that element in the same step.
func (r *Renderer) Render(ctx context.Context, reg *lifecycle.Registry, p resolver.PageType, rec *ownership.Record) (page.InsertResult, error) {
	anchor := r.Anchor(p)
	if anchor == "" {
		return page.NoAnchor, r.Clear(ctx, reg)
	}

	markup, err := Markup(rec)
	if err != nil {
		return 0, err
	}
	res, err := r.doc.InsertOverlay(ctx, page.Overlay{
		ID:     ElementID,
		Anchor: anchor,
		Key:    Fingerprint(markup),
		Markup: markup,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert overlay: %w", err)
	}

	if res == page.NoAnchor {
		r.forget(reg)
		r.logger.Debug("Overlay anchor not present yet.", zap.Stringer("page", p), zap.String("anchor", anchor))
		return res, nil
	}
	r.forget(reg)
	doc := r.doc
	h, err := reg.Register(lifecycle.Resource{
		Kind: lifecycle.Node,
		Name: ElementID,
		Release: func(ctx context.Context) error {
			_, err := doc.RemoveOverlay(ctx, ElementID)
			return err
		},
	})
	if err != nil {
		// A drain is running and has already removed the element.
		return res, err
	}
	r.node = h
	return res, nil
}

// Clear removes every overlay element from the page.
func (r *Renderer) Clear(ctx context.Context, reg *lifecycle.Registry) error {
	r.forget(reg)
	if _, err := r.doc.RemoveOverlay(ctx, ElementID); err != nil {
		return fmt.Errorf("failed to remove overlay: %w", err)
	}
	return nil
}

func (r *Renderer) forget(reg *lifecycle.Registry) {
	if r.node != 0 {
		reg.Consume(r.node)
		r.node = 0
	}
}
