package main

import (
	"context"
	"fmt"
	"time"
)

// PersistedReport is one feed entry, already normalized for display.
type PersistedReport struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	UserName    string `json:"userName"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Location    string `json:"location"`
	SubmittedAt string `json:"submittedAt"`
}

const (
	feedUnknownLocation = "Unknown location"
	feedAnonymousUser   = "Anonymous"
	feedEmptyMessage    = "No reports submitted yet"
)

// FeedViewer loads the community feed: every report, newest first. It issues
// exactly one ordered query per load and tolerates partially-filled records
// with display placeholders instead of dropping them.
type FeedViewer struct {
	documents DocumentStore
}

func NewFeedViewer(documents DocumentStore) *FeedViewer {
	return &FeedViewer{documents: documents}
}

func (v *FeedViewer) Load(ctx context.Context) ([]PersistedReport, error) {
	documents, err := v.documents.QueryOrdered(ctx, reportCollection, "timestamp", true)
	if err != nil {
		return nil, fmt.Errorf("load report feed: %w", err)
	}

	reports := make([]PersistedReport, 0, len(documents))
	for _, document := range documents {
		reports = append(reports, reportFromDocument(document))
	}
	return reports, nil
}

// reportFromDocument maps a raw record into a display entry. Missing fields
// degrade to placeholders; they never fail the load.
func reportFromDocument(document Document) PersistedReport {
	report := PersistedReport{
		ID:       document.ID,
		UserName: feedAnonymousUser,
		Location: feedUnknownLocation,
	}

	if userID, ok := document.Data["userId"].(string); ok {
		report.UserID = userID
	}
	if name, ok := document.Data["userName"].(string); ok && name != "" {
		report.UserName = name
	}
	if description, ok := document.Data["description"].(string); ok {
		report.Description = description
	}
	if imageURL, ok := document.Data["imageUrl"].(string); ok {
		report.ImageURL = imageURL
	}
	if label := locationLabel(document.Data["location"]); label != "" {
		report.Location = label
	}
	if !document.CreatedAt.IsZero() {
		report.SubmittedAt = document.CreatedAt.UTC().Format(time.RFC3339)
	}

	return report
}

// locationLabel renders the persisted location value: a captured coordinate
// becomes a fixed-precision label, a manual address passes through as-is.
func locationLabel(value any) string {
	switch location := value.(type) {
	case string:
		return location
	case map[string]any:
		lat, latOK := numericValue(location["lat"])
		lng, lngOK := numericValue(location["lng"])
		if !latOK || !lngOK {
			return ""
		}
		return fmt.Sprintf("Lat %.5f, Lng %.5f", lat, lng)
	default:
		return ""
	}
}

func numericValue(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case int:
		return float64(number), true
	default:
		return 0, false
	}
}

// filterByUser keeps the entries submitted by one user, preserving order.
func filterByUser(reports []PersistedReport, userID string) []PersistedReport {
	mine := make([]PersistedReport, 0)
	for _, report := range reports {
		if report.UserID == userID {
			mine = append(mine, report)
		}
	}
	return mine
}
