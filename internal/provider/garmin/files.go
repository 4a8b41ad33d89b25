package garmin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"activity-provider-sync/internal/fitfile"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

type importMessage struct {
	Code    int    `json:"code"`
	Content string `json:"content"`
}

type importResult struct {
	DetailedImportResult struct {
		UploadID  int64 `json:"uploadId"`
		Successes []struct {
			InternalID int64 `json:"internalId"`
		} `json:"successes"`
		Failures []struct {
			InternalID int64           `json:"internalId"`
			Messages   []importMessage `json:"messages"`
		} `json:"failures"`
	} `json:"detailedImportResult"`
}

// DownloadActivity writes the original export of an activity to path
func (c *Client) DownloadActivity(ctx context.Context, activityID, path string) error {
	if _, err := c.profile(); err != nil {
		return err
	}

	body, err := c.api.Do(ctx, transport.Request{
		Operation: metrics.OpDownload,
		Method:    http.MethodGet,
		Path:      "/download-service/files/activity/" + url.PathEscape(activityID),
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

// UploadActivity imports a FIT, TCX or GPX file and returns the new activity id
func (c *Client) UploadActivity(ctx context.Context, filePath string) (string, error) {
	if _, err := c.profile(); err != nil {
		return "", err
	}
	format, err := fitfile.Format(filePath)
	if err != nil {
		return "", err
	}

	body, contentType, err := transport.MultipartFile("file", filePath, nil)
	if err != nil {
		return "", err
	}

	var result importResult
	err = c.api.DoJSON(ctx, transport.Request{
		Operation:   metrics.OpUpload,
		Method:      http.MethodPost,
		Path:        "/upload-service/upload/." + format,
		Body:        body,
		ContentType: contentType,
	}, &result)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(filePath), err)
	}

	imported := result.DetailedImportResult
	if len(imported.Successes) > 0 && imported.Successes[0].InternalID != 0 {
		id := strconv.FormatInt(imported.Successes[0].InternalID, 10)
		c.logger.Info("Upload imported", "upload_id", imported.UploadID, "activity_id", id, "file", filepath.Base(filePath))
		return id, nil
	}

	var reasons []string
	for _, f := range imported.Failures {
		for _, m := range f.Messages {
			reasons = append(reasons, m.Content)
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no activity created")
	}
	return "", fmt.Errorf("garmin rejected upload %s: %s", filepath.Base(filePath), strings.Join(reasons, "; "))
}

// CreateManualActivity generates a FIT file for the activity and uploads it
func (c *Client) CreateManualActivity(ctx context.Context, activity provider.Activity) (string, error) {
	path, err := fitfile.WriteTemp(c.tempDir, activity)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	id, err := c.UploadActivity(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to create activity: %w", err)
	}
	return id, nil
}
