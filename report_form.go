package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Submission lifecycle of one report form instance.
type FormState string

const (
	FormIdle             FormState = "idle"
	FormValidating       FormState = "validating"
	FormUploadingImage   FormState = "uploading_image"
	FormPersistingRecord FormState = "persisting_record"
	FormSucceeded        FormState = "succeeded"
	FormErrored          FormState = "errored"
)

const (
	maxImageBytes    = 5 * 1024 * 1024
	reportCollection = "reports"
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

var (
	// ErrSubmitInFlight rejects a re-entrant Submit while an upload or
	// record write is running. The second call is a no-op, never queued.
	ErrSubmitInFlight = errors.New("submission already in flight")

	// ErrNotAuthenticated means the actor must register before submitting.
	// It is a redirect outcome, not a form error.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ImageAttachment is the validated binary handle of a report draft.
type ImageAttachment struct {
	Name     string
	MimeType string
	Bytes    []byte
}

// SubmitResult is returned on a successful submission so the caller can
// route to the feed.
type SubmitResult struct {
	ReportID string `json:"id"`
	ImageURL string `json:"imageUrl"`
}

// ReportForm owns the draft of one in-progress submission: description,
// attachment, resolved location, and the submission lifecycle. One instance
// per active form; discarded on completion.
type ReportForm struct {
	identity  IdentityProvider
	objects   ObjectStore
	documents DocumentStore

	mu            sync.Mutex
	state         FormState
	message       string
	description   string
	image         *ImageAttachment
	coordinate    *GeoCoordinate
	manualAddress string
}

func NewReportForm(identity IdentityProvider, objects ObjectStore, documents DocumentStore) *ReportForm {
	return &ReportForm{
		identity:  identity,
		objects:   objects,
		documents: documents,
		state:     FormIdle,
	}
}

func (f *ReportForm) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Message is the user-visible validation or failure message of the last
// rejected operation.
func (f *ReportForm) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

func (f *ReportForm) SetDescription(description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.description = strings.TrimSpace(description)
}

// UseCoordinate resolves the draft location from the acquirer. The captured
// coordinate wins over any manual address.
func (f *ReportForm) UseCoordinate(coordinate GeoCoordinate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coordinate = &coordinate
}

// UseManualAddress resolves the draft location from free-text entry, the
// fallback when location permission was denied or unsupported.
func (f *ReportForm) UseManualAddress(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manualAddress = strings.TrimSpace(address)
}

// AttachImage validates and attaches a photo. A rejected file leaves any
// previous attachment unchanged.
func (f *ReportForm) AttachImage(attachment ImageAttachment) error {
	mimeType := strings.ToLower(strings.TrimSpace(strings.Split(attachment.MimeType, ";")[0]))
	if _, ok := allowedImageTypes[mimeType]; !ok {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_photo_type", Message: "Photo must be a JPEG or PNG image"}
	}
	if len(attachment.Bytes) > maxImageBytes {
		return &apiError{Status: http.StatusBadRequest, Code: "photo_too_large", Message: "Photo exceeds the 5 MiB upload limit"}
	}

	attachment.MimeType = mimeType
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = &attachment
	return nil
}

// Reset returns an errored form to Idle so the user can retry. The draft
// fields survive; only the lifecycle state is cleared.
func (f *ReportForm) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FormErrored || f.state == FormSucceeded {
		f.state = FormIdle
		f.message = ""
	}
}

// Submit runs the submission lifecycle: authentication check, local
// validation, then exactly two ordered effects — image upload and record
// create. A failure after the upload leaves the uploaded object orphaned;
// nothing compensates for it. At most one submission is in flight per form.
func (f *ReportForm) Submit(ctx context.Context) (*SubmitResult, error) {
	f.mu.Lock()
	if f.state == FormUploadingImage || f.state == FormPersistingRecord {
		f.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	f.state = FormValidating
	f.message = ""
	f.mu.Unlock()

	actor, err := f.identity.CurrentUser(ctx)
	if err != nil {
		return nil, f.fail("Failed to submit report. Please try again.", err)
	}
	if actor == nil {
		f.setState(FormIdle)
		return nil, ErrNotAuthenticated
	}

	if err := f.validateDraft(); err != nil {
		f.mu.Lock()
		f.state = FormErrored
		f.message = err.Error()
		f.mu.Unlock()
		return nil, err
	}

	f.mu.Lock()
	image := *f.image
	record := map[string]any{
		"userId":      strconv.Itoa(actor.UserID),
		"userName":    actor.FullName,
		"description": f.description,
		"location":    f.locationValueLocked(),
	}
	f.state = FormUploadingImage
	f.mu.Unlock()

	key := fmt.Sprintf("reports/%d_%s_%s", time.Now().UnixMilli(), uuid.NewString()[:8], image.Name)
	imageURL, err := f.objects.Upload(ctx, key, image.MimeType, image.Bytes)
	if err != nil {
		return nil, f.fail("Failed to submit report. Please try again.", err)
	}

	f.setState(FormPersistingRecord)
	record["imageUrl"] = imageURL
	reportID, err := f.documents.Create(ctx, reportCollection, record)
	if err != nil {
		// The uploaded object is now orphaned; surfaced identically to a
		// full failure.
		return nil, f.fail("Failed to submit report. Please try again.", err)
	}

	f.setState(FormSucceeded)
	return &SubmitResult{ReportID: reportID, ImageURL: imageURL}, nil
}

// validateDraft checks the local preconditions. No gateway is touched while
// any of them fails.
func (f *ReportForm) validateDraft() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.description == "" {
		return &apiError{Status: http.StatusBadRequest, Code: "missing_description", Message: "Please describe the issue"}
	}
	if f.image == nil {
		return &apiError{Status: http.StatusBadRequest, Code: "missing_photo", Message: "Please attach a photo"}
	}
	if f.coordinate == nil && f.manualAddress == "" {
		return &apiError{Status: http.StatusBadRequest, Code: "missing_location", Message: "Please enable location or enter it manually"}
	}
	return nil
}

// locationValueLocked renders the resolved location for persistence: the
// captured coordinate when present, otherwise the manual address string.
func (f *ReportForm) locationValueLocked() any {
	if f.coordinate != nil {
		value := map[string]any{"lat": f.coordinate.Lat, "lng": f.coordinate.Lng}
		if f.coordinate.AccuracyM > 0 {
			value["accuracy_m"] = f.coordinate.AccuracyM
		}
		return value
	}
	return f.manualAddress
}

func (f *ReportForm) setState(state FormState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

// fail converts a gateway failure into the errored state with a single
// generic user-facing message. The underlying error is wrapped for logs only.
func (f *ReportForm) fail(message string, err error) error {
	f.mu.Lock()
	f.state = FormErrored
	f.message = message
	f.mu.Unlock()
	return &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: message, cause: err}
}
