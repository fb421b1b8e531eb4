package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// createReportHandler accepts one multipart submission: a description, a
// photo, and either a captured coordinate or a manual address. It drives the
// form lifecycle end to end and maps the outcome onto HTTP.
func (a *App) createReportHandler(c *gin.Context) {
	if !a.checkRateLimit("reports:" + c.ClientIP()) {
		writeAPIError(c, &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many submissions, try again later"})
		return
	}

	identity := a.currentIdentity(c)

	form := NewReportForm(staticIdentity{identity: identity}, a.objects, a.documents)
	form.SetDescription(c.PostForm("description"))

	if coordinate, ok, err := coordinateFromForm(c); err != nil {
		writeAPIError(c, err)
		return
	} else if ok {
		form.UseCoordinate(coordinate)
	} else {
		form.UseManualAddress(c.PostForm("manual_address"))
	}

	if attachment, err := imageFromForm(c); err != nil {
		writeAPIError(c, err)
		return
	} else if attachment != nil {
		if err := form.AttachImage(*attachment); err != nil {
			writeAPIError(c, err)
			return
		}
	}

	result, err := form.Submit(c.Request.Context())
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			writeAPIError(c, &apiError{
				Status:   http.StatusUnauthorized,
				Code:     "unauthorized",
				Message:  "Please register before submitting a report",
				Redirect: "/register",
			})
			return
		}
		a.log.Error("report submission failed", "err", err, "state", form.State())
		if a.metrics != nil {
			a.metrics.reportSubmissions.WithLabelValues("failed").Inc()
		}
		writeAPIError(c, err)
		return
	}

	if a.metrics != nil {
		a.metrics.reportSubmissions.WithLabelValues("succeeded").Inc()
	}
	a.log.Info("report submitted", "report_id", result.ReportID, "user_id", identity.UserID)
	c.JSON(http.StatusCreated, result)
}

// coordinateFromForm reads an optional captured coordinate. ok is false when
// the form carries no lat/lng at all.
func coordinateFromForm(c *gin.Context) (GeoCoordinate, bool, error) {
	rawLat := c.PostForm("lat")
	rawLng := c.PostForm("lng")
	if rawLat == "" && rawLng == "" {
		return GeoCoordinate{}, false, nil
	}

	lat, latErr := strconv.ParseFloat(rawLat, 64)
	lng, lngErr := strconv.ParseFloat(rawLng, 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return GeoCoordinate{}, false, &apiError{Status: http.StatusBadRequest, Code: "invalid_location", Message: "Invalid coordinate"}
	}

	coordinate := GeoCoordinate{Lat: lat, Lng: lng}
	if rawAccuracy := c.PostForm("accuracy_m"); rawAccuracy != "" {
		if accuracy, err := strconv.ParseFloat(rawAccuracy, 64); err == nil && accuracy > 0 {
			coordinate.AccuracyM = accuracy
		}
	}
	return coordinate, true, nil
}

// imageFromForm reads the optional photo part. A missing part is not an error
// here; the form controller reports it as a validation failure.
func imageFromForm(c *gin.Context) (*ImageAttachment, error) {
	fileHeader, err := c.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_photo", Message: "Could not read photo upload"}
	}
	if fileHeader.Size > maxImageBytes {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "photo_too_large", Message: "Photo exceeds the 5 MiB upload limit"}
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_photo", Message: "Could not read photo upload"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_photo", Message: "Could not read photo upload"}
	}
	if len(data) > maxImageBytes {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "photo_too_large", Message: "Photo exceeds the 5 MiB upload limit"}
	}

	return &ImageAttachment{
		Name:     fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Bytes:    data,
	}, nil
}

// listReportsHandler serves the community feed. An empty feed is a successful
// response with a message; a gateway failure is a 502, never an empty list.
func (a *App) listReportsHandler(c *gin.Context) {
	viewer := NewFeedViewer(a.documents)
	reports, err := viewer.Load(c.Request.Context())
	if err != nil {
		a.log.Error("failed to load report feed", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Failed to load reports"})
		return
	}

	body := gin.H{"reports": reports}
	if len(reports) == 0 {
		body["message"] = feedEmptyMessage
	}
	c.JSON(http.StatusOK, body)
}

// myReportsHandler serves the acting user's own submissions, newest first.
func (a *App) myReportsHandler(c *gin.Context) {
	identity := a.currentIdentity(c)
	if identity == nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "User session required", Redirect: "/register"})
		return
	}

	viewer := NewFeedViewer(a.documents)
	reports, err := viewer.Load(c.Request.Context())
	if err != nil {
		a.log.Error("failed to load report feed", "err", err, "user_id", identity.UserID)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Failed to load reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": filterByUser(reports, strconv.Itoa(identity.UserID))})
}
