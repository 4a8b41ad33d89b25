package strava

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

// ActivitySummary represents a summary of an activity from list endpoints
type ActivitySummary struct {
	ID int64 `json:"id"`
}

// DetailedActivity is the subset of the Strava activity payload that is mapped
type DetailedActivity struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Type            string     `json:"type"`
	SportType       string     `json:"sport_type"`
	StartDate       time.Time  `json:"start_date"`
	Timezone        string     `json:"timezone"`
	Distance        float64    `json:"distance"`
	ElapsedTime     float64    `json:"elapsed_time"`
	DeviceName      string     `json:"device_name"`
	LocationCity    string     `json:"location_city"`
	LocationCountry string     `json:"location_country"`
	StartLatLng     []float64  `json:"start_latlng"`
	WorkoutType     *int       `json:"workout_type"`
	Manual          bool       `json:"manual"`
	Trainer         bool       `json:"trainer"`
	Gear            *gearEntry `json:"gear"`
}

type gearEntry struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Nickname  string  `json:"nickname"`
	BrandName string  `json:"brand_name"`
	Distance  float64 `json:"distance"`
}

// Strava workout_type values flagging a race
const (
	workoutRunRace  = 1
	workoutRideRace = 11
)

// ListActivities fetches one page of activity ids started after the given time.
// Returns activity IDs and whether there are more pages available.
func (c *Client) ListActivities(ctx context.Context, after time.Time, page int) ([]string, bool, error) {
	if page < 1 {
		page = 1
	}

	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(c.perPage)},
	}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	var activities []ActivitySummary
	err := c.api.DoJSON(ctx, transport.Request{
		Operation: metrics.OpListActivities,
		Method:    http.MethodGet,
		Path:      "/athlete/activities",
		Query:     params,
	}, &activities)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list activities: %w", err)
	}

	ids := make([]string, len(activities))
	for i, activity := range activities {
		ids[i] = strconv.FormatInt(activity.ID, 10)
	}

	// If we got a full page, there might be more
	return ids, len(activities) == c.perPage, nil
}

// GetActivity fetches the raw detailed activity payload, served from cache when present
func (c *Client) GetActivity(ctx context.Context, activityID string) (json.RawMessage, error) {
	key := cache.Key{Provider: string(provider.Strava), Kind: cache.KindActivity, ID: activityID}
	body, err := provider.CachedFetch(ctx, c.cache, key, func(ctx context.Context) ([]byte, error) {
		return c.api.Do(ctx, transport.Request{
			Operation: metrics.OpGetActivity,
			Method:    http.MethodGet,
			Path:      "/activities/" + url.PathEscape(activityID),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %s: %w", activityID, err)
	}
	return json.RawMessage(body), nil
}

// Sync lists activities started after the checkpoint and maps their details
func (c *Client) Sync(ctx context.Context, checkpoint provider.Checkpoint) (*provider.Batch, error) {
	var ids []string
	for page := 1; ; page++ {
		pageIDs, hasMore, err := c.ListActivities(ctx, checkpoint.Since, page)
		if err != nil {
			return nil, err
		}
		for _, id := range pageIDs {
			if id == checkpoint.LastID {
				continue
			}
			ids = append(ids, id)
		}
		if !hasMore {
			break
		}
	}

	c.logger.Info("Listed activities", "count", len(ids), "since", checkpoint.Since)

	activities, failures := provider.FetchDetails(ctx, ids, c.pool, c.fetchMapped)
	if err := provider.FirstAuthFailure(failures); err != nil {
		return nil, err
	}

	status := c.GetRateLimitStatus()
	c.logger.Info("Rate limit usage after sync",
		"usage_15min_pct", status.Usage15MinPct,
		"usage_daily_pct", status.UsageDailyPct)

	return &provider.Batch{Activities: activities, Failures: failures}, nil
}

// SyncActivity fetches and maps a single activity
func (c *Client) SyncActivity(ctx context.Context, activityID string) (*provider.MappedActivity, error) {
	m, err := c.fetchMapped(ctx, activityID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) fetchMapped(ctx context.Context, activityID string) (provider.MappedActivity, error) {
	raw, err := c.GetActivity(ctx, activityID)
	if err != nil {
		return provider.MappedActivity{}, err
	}
	return MapActivity(raw)
}

// MapActivity converts a raw Strava activity into the canonical form
func MapActivity(raw json.RawMessage) (provider.MappedActivity, error) {
	var a DetailedActivity
	if err := json.Unmarshal(raw, &a); err != nil {
		return provider.MappedActivity{}, fmt.Errorf("%w: strava activity: %v", provider.ErrMapping, err)
	}
	if a.ID == 0 || a.StartDate.IsZero() {
		return provider.MappedActivity{}, fmt.Errorf("%w: strava activity missing id or start_date", provider.ErrMapping)
	}

	code := a.SportType
	if code == "" {
		code = a.Type
	}
	class := provider.Classify(provider.Strava, code, a.Name)
	if a.Trainer && class.Subtype != provider.SubtypeVirtual {
		class.Subtype = provider.SubtypeIndoor
	}

	isEvent := provider.IsRaceTitle(a.Name)
	if a.WorkoutType != nil && (*a.WorkoutType == workoutRunRace || *a.WorkoutType == workoutRideRace) {
		isEvent = true
	}

	activity := provider.Activity{
		Name:            a.Name,
		StartTime:       a.StartDate.UnixMilli(),
		Timezone:        provider.NormalizeTimezone(a.Timezone),
		Distance:        a.Distance,
		Duration:        a.ElapsedTime,
		Manufacturer:    manufacturer(a.DeviceName),
		LocationName:    a.LocationCity,
		LocationCountry: a.LocationCountry,
		Type:            class.Type,
		Subtype:         class.Subtype,
		Notes:           a.Description,
		IsEvent:         isEvent,
	}
	if len(a.StartLatLng) == 2 {
		lat, lng := a.StartLatLng[0], a.StartLatLng[1]
		activity.StartLatitude = &lat
		activity.StartLongitude = &lng
	}

	m := provider.MappedActivity{
		Activity:           activity,
		Provider:           provider.Strava,
		ProviderActivityID: strconv.FormatInt(a.ID, 10),
		Original:           isOriginal(a),
		Raw:                raw,
	}
	if a.Gear != nil && a.Gear.ID != "" {
		m.Gears = append(m.Gears, mapGear(*a.Gear))
	}
	return m, nil
}

// isOriginal reports whether Strava captured the activity itself
func isOriginal(a DetailedActivity) bool {
	if a.Manual || a.DeviceName == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(a.DeviceName), "strava")
}

// manufacturer takes the brand from device names like "Garmin Forerunner 955"
func manufacturer(deviceName string) string {
	fields := strings.Fields(deviceName)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func mapGear(g gearEntry) provider.MappedGear {
	label := g.Nickname
	if label == "" {
		label = g.Name
	}
	name, code := provider.ParseGearName(label)
	gearType := provider.GearShoes
	if strings.HasPrefix(g.ID, "b") {
		gearType = provider.GearBike
	}
	raw, _ := json.Marshal(g)
	return provider.MappedGear{
		Provider:       provider.Strava,
		ProviderGearID: g.ID,
		Name:           name,
		Code:           code,
		Brand:          g.BrandName,
		Type:           gearType,
		Raw:            raw,
	}
}
