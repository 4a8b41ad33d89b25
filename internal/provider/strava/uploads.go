package strava

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 30
)

// uploadStatus is the Strava upload resource
type uploadStatus struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	ActivityID int64  `json:"activity_id"`
}

var sportTypes = map[provider.ActivityType]string{
	provider.TypeRun:      "Run",
	provider.TypeBike:     "Ride",
	provider.TypeSwim:     "Swim",
	provider.TypeWalk:     "Walk",
	provider.TypeHike:     "Hike",
	provider.TypeSki:      "AlpineSki",
	provider.TypeStrength: "WeightTraining",
	provider.TypeOther:    "Workout",
}

var subtypeSportTypes = map[provider.Classification]string{
	{Type: provider.TypeRun, Subtype: provider.SubtypeTrail}:       "TrailRun",
	{Type: provider.TypeRun, Subtype: provider.SubtypeVirtual}:     "VirtualRun",
	{Type: provider.TypeBike, Subtype: provider.SubtypeMountain}:   "MountainBikeRide",
	{Type: provider.TypeBike, Subtype: provider.SubtypeGravel}:     "GravelRide",
	{Type: provider.TypeBike, Subtype: provider.SubtypeVirtual}:    "VirtualRide",
	{Type: provider.TypeSki, Subtype: provider.SubtypeBackcountry}: "BackcountrySki",
}

// SportType returns the Strava sport_type for a canonical classification
func SportType(t provider.ActivityType, s provider.ActivitySubtype) string {
	if st, ok := subtypeSportTypes[provider.Classification{Type: t, Subtype: s}]; ok {
		return st
	}
	if st, ok := sportTypes[t]; ok {
		return st
	}
	return "Workout"
}

// DownloadActivity is not offered by the Strava API
func (c *Client) DownloadActivity(ctx context.Context, activityID, path string) error {
	return fmt.Errorf("strava activity export: %w", provider.ErrNotSupported)
}

// UploadActivity uploads a FIT, TCX or GPX file and waits for Strava to process it
func (c *Client) UploadActivity(ctx context.Context, filePath string) (string, error) {
	dataType, err := uploadDataType(filePath)
	if err != nil {
		return "", err
	}

	body, contentType, err := transport.MultipartFile("file", filePath, map[string]string{"data_type": dataType})
	if err != nil {
		return "", err
	}

	var status uploadStatus
	err = c.api.DoJSON(ctx, transport.Request{
		Operation:   metrics.OpUpload,
		Method:      http.MethodPost,
		Path:        "/uploads",
		Body:        body,
		ContentType: contentType,
	}, &status)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(filePath), err)
	}

	c.logger.Info("Upload accepted", "upload_id", status.ID, "file", filepath.Base(filePath))

	for poll := 0; ; poll++ {
		if status.Error != "" {
			return "", fmt.Errorf("strava rejected upload %d: %s", status.ID, status.Error)
		}
		if status.ActivityID != 0 {
			return strconv.FormatInt(status.ActivityID, 10), nil
		}
		if poll >= c.maxPolls {
			return "", fmt.Errorf("upload %d still processing after %d polls", status.ID, poll)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		err := c.api.DoJSON(ctx, transport.Request{
			Operation: metrics.OpUploadStatus,
			Method:    http.MethodGet,
			Path:      "/uploads/" + strconv.FormatInt(status.ID, 10),
		}, &status)
		if err != nil {
			return "", fmt.Errorf("failed to poll upload %d: %w", status.ID, err)
		}
	}
}

func uploadDataType(filePath string) (string, error) {
	name := strings.ToLower(filepath.Base(filePath))
	gz := strings.HasSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".gz")

	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	switch ext {
	case "fit", "tcx", "gpx":
		if gz {
			return ext + ".gz", nil
		}
		return ext, nil
	}
	return "", fmt.Errorf("unsupported upload file type %q", filepath.Ext(filePath))
}

// CreateManualActivity creates an activity without a file
func (c *Client) CreateManualActivity(ctx context.Context, activity provider.Activity) (string, error) {
	req, err := transport.Request{
		Operation: metrics.OpCreateActivity,
		Method:    http.MethodPost,
		Path:      "/activities",
	}.JSONBody(map[string]any{
		"name":             activity.Name,
		"sport_type":       SportType(activity.Type, activity.Subtype),
		"start_date_local": activity.Start().Format(time.RFC3339),
		"elapsed_time":     int(activity.Duration),
		"distance":         activity.Distance,
		"description":      activity.Notes,
		"trainer":          activity.Subtype == provider.SubtypeIndoor,
	})
	if err != nil {
		return "", err
	}

	var created ActivitySummary
	if err := c.api.DoJSON(ctx, req, &created); err != nil {
		return "", fmt.Errorf("failed to create activity: %w", err)
	}
	return strconv.FormatInt(created.ID, 10), nil
}
