package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// gatewayLedger records every upload and create in arrival order so tests can
// assert both counts and ordering.
type gatewayLedger struct {
	mu     sync.Mutex
	events []string
}

func (l *gatewayLedger) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *gatewayLedger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type fakeIdentityProvider struct {
	identity *Identity
	err      error
}

func (f *fakeIdentityProvider) CurrentUser(ctx context.Context) (*Identity, error) {
	return f.identity, f.err
}

type fakeObjectStore struct {
	ledger  *gatewayLedger
	url     string
	err     error
	keys    []string
	release chan struct{}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	f.ledger.record("upload")
	f.keys = append(f.keys, key)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	if f.url != "" {
		return f.url, nil
	}
	return "https://cdn.example.com/" + key, nil
}

type fakeDocumentStore struct {
	ledger    *gatewayLedger
	createErr error
	created   []map[string]any
	documents []Document
	queryErr  error
	putByID   map[string]map[string]any

	queryCollection string
	queryField      string
	queryDesc       bool
}

func (f *fakeDocumentStore) Create(ctx context.Context, collection string, record map[string]any) (string, error) {
	f.ledger.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, record)
	return "doc-1", nil
}

func (f *fakeDocumentStore) Put(ctx context.Context, collection, id string, record map[string]any) error {
	if f.putByID == nil {
		f.putByID = make(map[string]map[string]any)
	}
	f.putByID[id] = record
	return nil
}

func (f *fakeDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	for i := range f.documents {
		if f.documents[i].ID == id {
			return &f.documents[i], nil
		}
	}
	return nil, nil
}

func (f *fakeDocumentStore) QueryOrdered(ctx context.Context, collection, field string, desc bool) ([]Document, error) {
	f.queryCollection = collection
	f.queryField = field
	f.queryDesc = desc
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.documents, nil
}

func newTestForm(identity *Identity) (*ReportForm, *fakeObjectStore, *fakeDocumentStore, *gatewayLedger) {
	ledger := &gatewayLedger{}
	objects := &fakeObjectStore{ledger: ledger}
	documents := &fakeDocumentStore{ledger: ledger}
	form := NewReportForm(&fakeIdentityProvider{identity: identity}, objects, documents)
	return form, objects, documents, ledger
}

func testJPEG(size int) ImageAttachment {
	return ImageAttachment{Name: "trash.jpg", MimeType: "image/jpeg", Bytes: bytes.Repeat([]byte{0xAB}, size)}
}

func TestSubmitWithoutIdentityRedirects(t *testing.T) {
	form, _, _, ledger := newTestForm(nil)
	form.SetDescription("Overflowing bin near the park gate")
	if err := form.AttachImage(testJPEG(1024)); err != nil {
		t.Fatalf("AttachImage() error = %v", err)
	}
	form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})

	_, err := form.Submit(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Submit() error = %v, want ErrNotAuthenticated", err)
	}
	if got := ledger.snapshot(); len(got) != 0 {
		t.Errorf("gateway calls = %v, want none", got)
	}
	if form.State() != FormIdle {
		t.Errorf("state = %s, want idle", form.State())
	}
}

func TestSubmitValidationFailures(t *testing.T) {
	actor := &Identity{UserID: 7, Email: "nisha@example.com", FullName: "Nisha Rai"}

	cases := []struct {
		name     string
		prepare  func(form *ReportForm)
		wantCode string
	}{
		{
			name: "missing description",
			prepare: func(form *ReportForm) {
				_ = form.AttachImage(testJPEG(512))
				form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})
			},
			wantCode: "missing_description",
		},
		{
			name: "missing photo",
			prepare: func(form *ReportForm) {
				form.SetDescription("Glass shards on the footpath")
				form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})
			},
			wantCode: "missing_photo",
		},
		{
			name: "missing location",
			prepare: func(form *ReportForm) {
				form.SetDescription("Glass shards on the footpath")
				_ = form.AttachImage(testJPEG(512))
			},
			wantCode: "missing_location",
		},
		{
			name: "whitespace description",
			prepare: func(form *ReportForm) {
				form.SetDescription("   ")
				_ = form.AttachImage(testJPEG(512))
				form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})
			},
			wantCode: "missing_description",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form, _, _, ledger := newTestForm(actor)
			tc.prepare(form)

			_, err := form.Submit(context.Background())
			var apiErr *apiError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Submit() error = %v, want *apiError", err)
			}
			if apiErr.Code != tc.wantCode {
				t.Errorf("error code = %s, want %s", apiErr.Code, tc.wantCode)
			}
			if form.State() != FormErrored {
				t.Errorf("state = %s, want errored", form.State())
			}
			if got := ledger.snapshot(); len(got) != 0 {
				t.Errorf("gateway calls = %v, want none", got)
			}
		})
	}
}

func TestSubmitSuccess(t *testing.T) {
	actor := &Identity{UserID: 42, Email: "suman@example.com", FullName: "Suman Shrestha"}
	form, objects, documents, ledger := newTestForm(actor)

	form.SetDescription("Garbage pile blocking the drain near Main Road")
	if err := form.AttachImage(testJPEG(1024 * 1024)); err != nil {
		t.Fatalf("AttachImage() error = %v", err)
	}
	form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})

	result, err := form.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if form.State() != FormSucceeded {
		t.Errorf("state = %s, want succeeded", form.State())
	}
	if result.ReportID != "doc-1" {
		t.Errorf("report id = %s, want doc-1", result.ReportID)
	}

	events := ledger.snapshot()
	if len(events) != 2 || events[0] != "upload" || events[1] != "create" {
		t.Fatalf("gateway calls = %v, want exactly [upload create]", events)
	}

	if len(objects.keys) != 1 || !strings.HasPrefix(objects.keys[0], "reports/") {
		t.Errorf("upload key = %v, want reports/ prefix", objects.keys)
	}
	if !strings.HasSuffix(objects.keys[0], "_trash.jpg") {
		t.Errorf("upload key = %s, want original filename suffix", objects.keys[0])
	}

	record := documents.created[0]
	if record["userId"] != "42" {
		t.Errorf("userId = %v, want \"42\"", record["userId"])
	}
	if record["userName"] != "Suman Shrestha" {
		t.Errorf("userName = %v", record["userName"])
	}
	location, ok := record["location"].(map[string]any)
	if !ok {
		t.Fatalf("location = %T, want coordinate map", record["location"])
	}
	if location["lat"] != 26.45 || location["lng"] != 87.27 {
		t.Errorf("location = %v, want captured coordinate", location)
	}
	if record["imageUrl"] != result.ImageURL {
		t.Errorf("imageUrl = %v, want %s", record["imageUrl"], result.ImageURL)
	}
}

func TestSubmitPersistsManualAddress(t *testing.T) {
	actor := &Identity{UserID: 3, Email: "a@example.com", FullName: "Asha"}
	form, _, documents, _ := newTestForm(actor)

	form.SetDescription("Burning waste beside the school")
	_ = form.AttachImage(testJPEG(256))
	form.UseManualAddress("Ward 4, Biratnagar")

	if _, err := form.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := documents.created[0]["location"]; got != "Ward 4, Biratnagar" {
		t.Errorf("location = %v, want manual address string", got)
	}
}

func TestCoordinateWinsOverManualAddress(t *testing.T) {
	actor := &Identity{UserID: 3, Email: "a@example.com", FullName: "Asha"}
	form, _, documents, _ := newTestForm(actor)

	form.SetDescription("Litter along the river bank")
	_ = form.AttachImage(testJPEG(256))
	form.UseManualAddress("somewhere")
	form.UseCoordinate(GeoCoordinate{Lat: 27.7172, Lng: 85.324})

	if _, err := form.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, ok := documents.created[0]["location"].(map[string]any); !ok {
		t.Errorf("location = %v, want coordinate map", documents.created[0]["location"])
	}
}

func TestAttachImageRejectsInvalidFiles(t *testing.T) {
	form, _, _, _ := newTestForm(&Identity{UserID: 1})

	good := testJPEG(100)
	if err := form.AttachImage(good); err != nil {
		t.Fatalf("AttachImage() error = %v", err)
	}

	if err := form.AttachImage(ImageAttachment{Name: "report.pdf", MimeType: "application/pdf", Bytes: []byte("x")}); err == nil {
		t.Error("AttachImage() accepted a non-image type")
	}
	if err := form.AttachImage(ImageAttachment{Name: "huge.png", MimeType: "image/png", Bytes: make([]byte, maxImageBytes+1)}); err == nil {
		t.Error("AttachImage() accepted an oversized file")
	}

	// Rejections leave the earlier attachment in place.
	form.SetDescription("test")
	form.UseCoordinate(GeoCoordinate{Lat: 1, Lng: 1})
	if _, err := form.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v, prior attachment should have survived", err)
	}
}

func TestSubmitReentrancyIsNoOp(t *testing.T) {
	actor := &Identity{UserID: 9, Email: "b@example.com", FullName: "Bikash"}
	ledger := &gatewayLedger{}
	objects := &fakeObjectStore{ledger: ledger, release: make(chan struct{})}
	documents := &fakeDocumentStore{ledger: ledger}
	form := NewReportForm(&fakeIdentityProvider{identity: actor}, objects, documents)

	form.SetDescription("Dump site behind the market")
	_ = form.AttachImage(testJPEG(128))
	form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})

	done := make(chan error, 1)
	go func() {
		_, err := form.Submit(context.Background())
		done <- err
	}()

	// Wait until the first submission is inside the upload call.
	deadline := time.After(2 * time.Second)
	for form.State() != FormUploadingImage {
		select {
		case <-deadline:
			t.Fatal("first submission never reached the upload stage")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := form.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("second Submit() error = %v, want ErrSubmitInFlight", err)
	}

	close(objects.release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	events := ledger.snapshot()
	if len(events) != 2 {
		t.Errorf("gateway calls = %v, want one upload and one create", events)
	}
}

func TestCreateFailureAfterUploadErrors(t *testing.T) {
	actor := &Identity{UserID: 5, Email: "c@example.com", FullName: "Chandra"}
	ledger := &gatewayLedger{}
	objects := &fakeObjectStore{ledger: ledger}
	documents := &fakeDocumentStore{ledger: ledger, createErr: errors.New("store unavailable")}
	form := NewReportForm(&fakeIdentityProvider{identity: actor}, objects, documents)

	form.SetDescription("Sewage overflow at the junction")
	_ = form.AttachImage(testJPEG(128))
	form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})

	_, err := form.Submit(context.Background())
	if err == nil {
		t.Fatal("Submit() succeeded, want failure")
	}
	if form.State() != FormErrored {
		t.Errorf("state = %s, want errored", form.State())
	}

	// Exactly one upload and one failed create; the upload is not retried or
	// compensated.
	events := ledger.snapshot()
	if len(events) != 2 || events[0] != "upload" || events[1] != "create" {
		t.Errorf("gateway calls = %v, want [upload create]", events)
	}
	if form.Message() == "" {
		t.Error("Message() is empty, want a user-facing failure message")
	}
}

func TestResetReturnsErroredFormToIdle(t *testing.T) {
	actor := &Identity{UserID: 5, Email: "c@example.com", FullName: "Chandra"}
	form, _, _, _ := newTestForm(actor)

	form.SetDescription("")
	_, _ = form.Submit(context.Background())
	if form.State() != FormErrored {
		t.Fatalf("state = %s, want errored", form.State())
	}

	form.Reset()
	if form.State() != FormIdle {
		t.Errorf("state after Reset() = %s, want idle", form.State())
	}
	if form.Message() != "" {
		t.Errorf("message after Reset() = %q, want empty", form.Message())
	}

	// Draft fields survive the reset.
	form.SetDescription("Now filled in")
	_ = form.AttachImage(testJPEG(64))
	form.UseCoordinate(GeoCoordinate{Lat: 26.45, Lng: 87.27})
	if _, err := form.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() after Reset() error = %v", err)
	}
}
