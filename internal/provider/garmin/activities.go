package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

// Garmin reports times without a zone; the GMT fields are UTC
var gmtLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseGMT(s string) (t time.Time, err error) {
	for _, layout := range gmtLayouts {
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// ActivitySummary is an entry of the activity search list
type ActivitySummary struct {
	ActivityID   int64  `json:"activityId"`
	StartTimeGMT string `json:"startTimeGMT"`
}

type typeDTO struct {
	TypeKey string `json:"typeKey"`
}

// ActivityDetail is the subset of the Garmin activity payload that is mapped
type ActivityDetail struct {
	ActivityID      int64   `json:"activityId"`
	ActivityName    string  `json:"activityName"`
	Description     string  `json:"description"`
	LocationName    string  `json:"locationName"`
	ActivityTypeDTO typeDTO `json:"activityTypeDTO"`
	EventTypeDTO    typeDTO `json:"eventTypeDTO"`
	TimeZoneUnitDTO struct {
		TimeZone string `json:"timeZone"`
	} `json:"timeZoneUnitDTO"`
	MetadataDTO struct {
		Manufacturer   string `json:"manufacturer"`
		ManualActivity bool   `json:"manualActivity"`
	} `json:"metadataDTO"`
	SummaryDTO struct {
		StartTimeGMT    string   `json:"startTimeGMT"`
		Distance        float64  `json:"distance"`
		Duration        float64  `json:"duration"`
		ElapsedDuration float64  `json:"elapsedDuration"`
		StartLatitude   *float64 `json:"startLatitude"`
		StartLongitude  *float64 `json:"startLongitude"`
	} `json:"summaryDTO"`
}

const eventTypeRace = "race"

// ListActivities fetches one page of the newest-first activity list
func (c *Client) ListActivities(ctx context.Context, start int) ([]ActivitySummary, error) {
	var activities []ActivitySummary
	err := c.api.DoJSON(ctx, transport.Request{
		Operation: metrics.OpListActivities,
		Method:    http.MethodGet,
		Path:      "/activitylist-service/activities/search/activities",
		Query: url.Values{
			"start": {strconv.Itoa(start)},
			"limit": {strconv.Itoa(c.pageSize)},
		},
	}, &activities)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// Sync walks the activity list from the newest entry back to the checkpoint
func (c *Client) Sync(ctx context.Context, checkpoint provider.Checkpoint) (*provider.Batch, error) {
	if _, err := c.profile(); err != nil {
		return nil, err
	}

	var ids []string
	for start := 0; ; start += c.pageSize {
		page, err := c.ListActivities(ctx, start)
		if err != nil {
			return nil, err
		}

		done := len(page) < c.pageSize
		for _, a := range page {
			id := strconv.FormatInt(a.ActivityID, 10)
			if checkpoint.LastID != "" && id == checkpoint.LastID {
				done = true
				break
			}
			if !checkpoint.Since.IsZero() {
				if t, err := parseGMT(a.StartTimeGMT); err == nil && !t.After(checkpoint.Since) {
					done = true
					break
				}
			}
			ids = append(ids, id)
		}
		if done {
			break
		}
	}

	c.logger.Info("Listed activities", "count", len(ids), "since", checkpoint.Since)

	activities, failures := provider.FetchDetails(ctx, ids, c.pool, c.fetchMapped)
	if err := provider.FirstAuthFailure(failures); err != nil {
		return nil, err
	}

	return &provider.Batch{Activities: activities, Failures: failures}, nil
}

// SyncActivity fetches and maps a single activity
func (c *Client) SyncActivity(ctx context.Context, activityID string) (*provider.MappedActivity, error) {
	if _, err := c.profile(); err != nil {
		return nil, err
	}
	m, err := c.fetchMapped(ctx, activityID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetActivity fetches the raw activity payload, served from cache when present
func (c *Client) GetActivity(ctx context.Context, activityID string) (json.RawMessage, error) {
	key := cache.Key{Provider: string(provider.Garmin), Kind: cache.KindActivity, ID: activityID}
	body, err := provider.CachedFetch(ctx, c.cache, key, func(ctx context.Context) ([]byte, error) {
		return c.api.Do(ctx, transport.Request{
			Operation: metrics.OpGetActivity,
			Method:    http.MethodGet,
			Path:      "/activity-service/activity/" + url.PathEscape(activityID),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %s: %w", activityID, err)
	}
	return json.RawMessage(body), nil
}

// GetActivityGear fetches the raw gear list of one activity
func (c *Client) GetActivityGear(ctx context.Context, activityID string) (json.RawMessage, error) {
	key := cache.Key{Provider: string(provider.Garmin), Kind: cache.KindActivityGear, ID: activityID}
	body, err := provider.CachedFetch(ctx, c.cache, key, func(ctx context.Context) ([]byte, error) {
		return c.api.Do(ctx, transport.Request{
			Operation: metrics.OpListGears,
			Method:    http.MethodGet,
			Path:      "/gear-service/gear/filterGear",
			Query:     url.Values{"activityId": {activityID}},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gear of activity %s: %w", activityID, err)
	}
	return json.RawMessage(body), nil
}

func (c *Client) fetchMapped(ctx context.Context, activityID string) (provider.MappedActivity, error) {
	raw, err := c.GetActivity(ctx, activityID)
	if err != nil {
		return provider.MappedActivity{}, err
	}
	gearRaw, err := c.GetActivityGear(ctx, activityID)
	if err != nil {
		return provider.MappedActivity{}, err
	}
	return MapActivity(raw, gearRaw)
}

// MapActivity converts a raw Garmin activity and its gear list into the canonical form.
// gearRaw may be empty.
func MapActivity(raw, gearRaw json.RawMessage) (provider.MappedActivity, error) {
	var a ActivityDetail
	if err := json.Unmarshal(raw, &a); err != nil {
		return provider.MappedActivity{}, fmt.Errorf("%w: garmin activity: %v", provider.ErrMapping, err)
	}
	if a.ActivityID == 0 || a.SummaryDTO.StartTimeGMT == "" {
		return provider.MappedActivity{}, fmt.Errorf("%w: garmin activity missing id or start time", provider.ErrMapping)
	}
	start, err := parseGMT(a.SummaryDTO.StartTimeGMT)
	if err != nil {
		return provider.MappedActivity{}, fmt.Errorf("%w: garmin start time %q", provider.ErrMapping, a.SummaryDTO.StartTimeGMT)
	}

	var entries []gearEntry
	if len(gearRaw) > 0 {
		if err := json.Unmarshal(gearRaw, &entries); err != nil {
			return provider.MappedActivity{}, fmt.Errorf("%w: garmin activity gear: %v", provider.ErrMapping, err)
		}
	}

	class := provider.Classify(provider.Garmin, a.ActivityTypeDTO.TypeKey, a.ActivityName)
	duration := a.SummaryDTO.ElapsedDuration
	if duration == 0 {
		duration = a.SummaryDTO.Duration
	}
	manufacturer := strings.ToUpper(a.MetadataDTO.Manufacturer)

	activity := provider.Activity{
		Name:         a.ActivityName,
		StartTime:    start.UnixMilli(),
		Timezone:     provider.NormalizeTimezone(a.TimeZoneUnitDTO.TimeZone),
		Distance:     a.SummaryDTO.Distance,
		Duration:     duration,
		Manufacturer: manufacturer,
		LocationName: a.LocationName,
		Type:         class.Type,
		Subtype:      class.Subtype,
		Notes:        a.Description,
		IsEvent:      a.EventTypeDTO.TypeKey == eventTypeRace || provider.IsRaceTitle(a.ActivityName),
	}
	if a.SummaryDTO.StartLatitude != nil && a.SummaryDTO.StartLongitude != nil {
		lat, lng := *a.SummaryDTO.StartLatitude, *a.SummaryDTO.StartLongitude
		activity.StartLatitude = &lat
		activity.StartLongitude = &lng
	}

	m := provider.MappedActivity{
		Activity:           activity,
		Provider:           provider.Garmin,
		ProviderActivityID: strconv.FormatInt(a.ActivityID, 10),
		// Files imported from other brands keep their manufacturer
		Original: manufacturer == "" || manufacturer == "GARMIN",
		Raw:      raw,
	}
	for _, g := range entries {
		if g.UUID == "" {
			continue
		}
		m.Gears = append(m.Gears, mapGear(g))
	}
	return m, nil
}
