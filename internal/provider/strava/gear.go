package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

// unlinkGearID clears the gear of an activity
const unlinkGearID = "none"

// SyncGears is not offered by the Strava API; gear only arrives attached to activities
func (c *Client) SyncGears(ctx context.Context) ([]provider.MappedGear, error) {
	return nil, fmt.Errorf("strava gear listing: %w", provider.ErrNotSupported)
}

// LinkActivityGear sets the gear of an activity. Strava keeps one gear per activity.
func (c *Client) LinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.updateGear(ctx, activityID, gearID, metrics.OpLinkGear); err != nil {
		return fmt.Errorf("failed to link gear %s to activity %s: %w", gearID, activityID, err)
	}
	return nil
}

// UnlinkActivityGear clears the gear of an activity
func (c *Client) UnlinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.updateGear(ctx, activityID, unlinkGearID, metrics.OpUnlinkGear); err != nil {
		return fmt.Errorf("failed to unlink gear %s from activity %s: %w", gearID, activityID, err)
	}
	return nil
}

func (c *Client) updateGear(ctx context.Context, activityID, gearID, op string) error {
	req, err := transport.Request{
		Operation: op,
		Method:    http.MethodPut,
		Path:      "/activities/" + url.PathEscape(activityID),
	}.JSONBody(map[string]string{"gear_id": gearID})
	if err != nil {
		return err
	}
	if _, err := c.api.Do(ctx, req); err != nil {
		return err
	}
	c.logger.Info("Updated activity gear", "activity_id", activityID, "gear_id", gearID)
	return nil
}
