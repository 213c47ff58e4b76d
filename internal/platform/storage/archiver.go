// Package storage archives quote artefacts to Cloud Storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/smilequote/api/internal/domain"
)

// ObjectWriterFunc opens a writer for bucket/object with the given content type.
type ObjectWriterFunc func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// Archiver writes immutable quote artefacts. Objects are created with a
// does-not-exist precondition so a retried submission never overwrites.
type Archiver struct {
	bucket string
	open   ObjectWriterFunc
}

// NewArchiver binds an archiver to bucket on client.
func NewArchiver(client *gcs.Client, bucket string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("storage archiver: client is required")
	}
	return newArchiver(bucket, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

func newArchiver(bucket string, open ObjectWriterFunc) (*Archiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archiver: bucket is required")
	}
	return &Archiver{bucket: bucket, open: open}, nil
}

type snapshotLine struct {
	TreatmentID string `json:"treatmentId"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
}

type quoteSnapshot struct {
	ID          string             `json:"id"`
	Reference   string             `json:"reference"`
	ClinicID    string             `json:"clinicId,omitempty"`
	Currency    string             `json:"currency"`
	Treatments  []snapshotLine     `json:"treatments,omitempty"`
	PackageID   string             `json:"packageId,omitempty"`
	OfferID     string             `json:"offerId,omitempty"`
	PromoCode   string             `json:"promoCode,omitempty"`
	PromoSource string             `json:"promoSource,omitempty"`
	Totals      domain.QuoteTotals `json:"totals"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ArchiveQuote stores a JSON snapshot and returns the gs:// URI.
func (a *Archiver) ArchiveQuote(ctx context.Context, q domain.Quote) (string, error) {
	object, err := BuildObjectPath(KindQuoteSnapshot, PathParams{ClinicID: q.ClinicID, QuoteID: q.ID, CreatedAt: q.CreatedAt})
	if err != nil {
		return "", err
	}
	snap := quoteSnapshot{
		ID:          q.ID,
		Reference:   q.Reference,
		ClinicID:    q.ClinicID,
		Currency:    q.Currency,
		PromoCode:   q.PromoCode,
		PromoSource: string(q.PromoSource),
		Totals:      q.Totals,
		CreatedAt:   q.CreatedAt.UTC(),
	}
	for _, line := range q.Treatments {
		snap.Treatments = append(snap.Treatments, snapshotLine{
			TreatmentID: line.Treatment.ID,
			Name:        line.Treatment.Name,
			UnitPrice:   line.Treatment.UnitPrice,
			Quantity:    line.Quantity,
		})
	}
	if q.Package != nil {
		snap.PackageID = q.Package.ID
	}
	if q.Offer != nil {
		snap.OfferID = q.Offer.ID
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("storage archiver: marshal quote: %w", err)
	}
	return a.write(ctx, object, "application/json", data)
}

// ArchiveEmail stores the rendered HTML body sent for a quote.
func (a *Archiver) ArchiveEmail(ctx context.Context, q domain.Quote, html string) (string, error) {
	object, err := BuildObjectPath(KindQuoteEmail, PathParams{ClinicID: q.ClinicID, QuoteID: q.ID, CreatedAt: q.CreatedAt})
	if err != nil {
		return "", err
	}
	return a.write(ctx, object, "text/html; charset=utf-8", []byte(html))
}

func (a *Archiver) write(ctx context.Context, object, contentType string, data []byte) (string, error) {
	w := a.open(ctx, a.bucket, object, contentType)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage archiver: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage archiver: close %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
