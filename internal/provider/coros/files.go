package coros

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"activity-provider-sync/internal/fitfile"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

// fileTypeFIT selects the FIT export
const fileTypeFIT = 4

type downloadData struct {
	FileURL string `json:"fileUrl"`
}

// DownloadActivity exports the activity as FIT and writes it to path
func (c *Client) DownloadActivity(ctx context.Context, activityID, path string) error {
	if err := c.session(); err != nil {
		return err
	}

	raw, err := c.GetActivity(ctx, activityID, 0)
	if err != nil {
		return err
	}
	var detail ActivityDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return fmt.Errorf("%w: coros activity: %v", provider.ErrMapping, err)
	}

	var export downloadData
	err = c.call(ctx, transport.Request{
		Operation: metrics.OpDownload,
		Method:    http.MethodPost,
		Path:      "/activity/detail/download",
		Query: url.Values{
			"labelId":   {activityID},
			"sportType": {strconv.Itoa(detail.Summary.SportType)},
			"fileType":  {strconv.Itoa(fileTypeFIT)},
		},
	}, &export)
	if err != nil {
		return fmt.Errorf("failed to export activity %s: %w", activityID, err)
	}
	if export.FileURL == "" {
		return fmt.Errorf("coros returned no file for activity %s", activityID)
	}

	body, err := c.api.Do(ctx, transport.Request{
		Operation: metrics.OpDownload,
		Method:    http.MethodGet,
		Path:      export.FileURL,
	})
	if err != nil {
		return fmt.Errorf("failed to download activity %s: %w", activityID, err)
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	c.logger.Info("Downloaded activity", "activity_id", activityID, "path", path, "bytes", len(body))
	return nil
}

// UploadActivity imports an activity file. The import response carries no
// id, so the new activity is found by its start time in that day's list.
func (c *Client) UploadActivity(ctx context.Context, filePath string) (string, error) {
	if err := c.session(); err != nil {
		return "", err
	}

	summary, err := fitfile.Inspect(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", filepath.Base(filePath), err)
	}

	body, contentType, err := transport.MultipartFile("sourceFile", filePath, nil)
	if err != nil {
		return "", err
	}
	err = c.call(ctx, transport.Request{
		Operation:   metrics.OpUpload,
		Method:      http.MethodPost,
		Path:        "/activity/fit/import",
		Body:        body,
		ContentType: contentType,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(filePath), err)
	}

	start := summary.StartTime.UTC()
	for pageNumber := 1; ; pageNumber++ {
		page, hasMore, err := c.ListActivities(ctx, start.AddDate(0, 0, -1), start.AddDate(0, 0, 1), pageNumber)
		if err != nil {
			return "", err
		}
		for _, a := range page {
			if a.StartTime == start.Unix() {
				c.logger.Info("Upload imported", "activity_id", a.LabelID, "file", filepath.Base(filePath))
				return a.LabelID, nil
			}
		}
		if !hasMore {
			break
		}
	}
	return "", fmt.Errorf("imported activity starting %s not found", start.Format("2006-01-02T15:04:05Z"))
}

// CreateManualActivity is not offered by Coros
func (c *Client) CreateManualActivity(ctx context.Context, activity provider.Activity) (string, error) {
	return "", fmt.Errorf("coros manual activities: %w", provider.ErrNotSupported)
}
