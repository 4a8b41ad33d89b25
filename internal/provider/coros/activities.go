package coros

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

// dayLayout is the Coros day filter format
const dayLayout = "20060102"

// Detail summaries use centimeters and hundredths of a second
const centi = 100.0

// ActivitySummary is an entry of the activity query list
type ActivitySummary struct {
	LabelID   string `json:"labelId"`
	Name      string `json:"name"`
	SportType int    `json:"sportType"`
	StartTime int64  `json:"startTime"` // unix seconds
}

// Start returns the start instant in UTC
func (a ActivitySummary) Start() time.Time {
	return time.Unix(a.StartTime, 0).UTC()
}

type activityPage struct {
	Count      int               `json:"count"`
	PageNumber int               `json:"pageNumber"`
	TotalPage  int               `json:"totalPage"`
	DataList   []ActivitySummary `json:"dataList"`
}

// ActivityDetail is the subset of the Coros detail payload that is mapped
type ActivityDetail struct {
	Summary struct {
		LabelID        string   `json:"labelId"`
		Name           string   `json:"name"`
		SportType      int      `json:"sportType"`
		StartTimestamp int64    `json:"startTimestamp"` // hundredths of a second
		StartTimezone  int      `json:"startTimezone"`  // quarter hours east of UTC
		TotalTime      float64  `json:"totalTime"`      // hundredths of a second
		Distance       float64  `json:"distance"`       // centimeters
		StartLatitude  *float64 `json:"startLatitude"`
		StartLongitude *float64 `json:"startLongitude"`
	} `json:"summary"`
	DeviceList []struct {
		Name string `json:"name"`
	} `json:"deviceList"`
	Equipments []equipment `json:"equipments"`
}

// ListActivities fetches one page of activities started between the given days.
// Zero days list everything.
func (c *Client) ListActivities(ctx context.Context, from, to time.Time, pageNumber int) ([]ActivitySummary, bool, error) {
	query := url.Values{
		"size":       {strconv.Itoa(c.pageSize)},
		"pageNumber": {strconv.Itoa(pageNumber)},
	}
	if !from.IsZero() {
		query.Set("startDay", from.Format(dayLayout))
		query.Set("endDay", to.Format(dayLayout))
	}

	var page activityPage
	err := c.call(ctx, transport.Request{
		Operation: metrics.OpListActivities,
		Method:    http.MethodGet,
		Path:      "/activity/query",
		Query:     query,
	}, &page)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list activities: %w", err)
	}

	hasMore := len(page.DataList) == c.pageSize && pageNumber < page.TotalPage
	return page.DataList, hasMore, nil
}

// Sync lists activities started after the checkpoint and maps their details.
// The day filter is widened by one day for timezones and trimmed afterwards.
func (c *Client) Sync(ctx context.Context, checkpoint provider.Checkpoint) (*provider.Batch, error) {
	if err := c.session(); err != nil {
		return nil, err
	}

	var from, to time.Time
	if !checkpoint.Since.IsZero() {
		from = checkpoint.Since.UTC().AddDate(0, 0, -1)
		to = c.now().UTC().AddDate(0, 0, 1)
	}

	var ids []string
	sportTypes := make(map[string]int)
	for pageNumber := 1; ; pageNumber++ {
		page, hasMore, err := c.ListActivities(ctx, from, to, pageNumber)
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			if a.LabelID == "" || a.LabelID == checkpoint.LastID {
				continue
			}
			if !checkpoint.Since.IsZero() && !a.Start().After(checkpoint.Since) {
				continue
			}
			if _, seen := sportTypes[a.LabelID]; seen {
				continue
			}
			sportTypes[a.LabelID] = a.SportType
			ids = append(ids, a.LabelID)
		}
		if !hasMore {
			break
		}
	}

	c.logger.Info("Listed activities", "count", len(ids), "since", checkpoint.Since)

	activities, failures := provider.FetchDetails(ctx, ids, c.pool, func(ctx context.Context, id string) (provider.MappedActivity, error) {
		return c.fetchMapped(ctx, id, sportTypes[id])
	})
	if err := provider.FirstAuthFailure(failures); err != nil {
		return nil, err
	}

	return &provider.Batch{Activities: activities, Failures: failures}, nil
}

// SyncActivity fetches and maps a single activity
func (c *Client) SyncActivity(ctx context.Context, activityID string) (*provider.MappedActivity, error) {
	if err := c.session(); err != nil {
		return nil, err
	}
	m, err := c.fetchMapped(ctx, activityID, 0)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetActivity fetches the raw detail data, served from cache when present.
// A zero sportType lets Coros resolve it from the label id.
func (c *Client) GetActivity(ctx context.Context, labelID string, sportType int) (json.RawMessage, error) {
	key := cache.Key{Provider: string(provider.Coros), Kind: cache.KindActivity, ID: labelID}
	body, err := provider.CachedFetch(ctx, c.cache, key, func(ctx context.Context) ([]byte, error) {
		query := url.Values{"labelId": {labelID}}
		if sportType != 0 {
			query.Set("sportType", strconv.Itoa(sportType))
		}
		return c.data(ctx, transport.Request{
			Operation: metrics.OpGetActivity,
			Method:    http.MethodPost,
			Path:      "/activity/detail/query",
			Query:     query,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %s: %w", labelID, err)
	}
	return json.RawMessage(body), nil
}

func (c *Client) fetchMapped(ctx context.Context, labelID string, sportType int) (provider.MappedActivity, error) {
	raw, err := c.GetActivity(ctx, labelID, sportType)
	if err != nil {
		return provider.MappedActivity{}, err
	}
	return MapActivity(raw)
}

// MapActivity converts raw Coros detail data into the canonical form
func MapActivity(raw json.RawMessage) (provider.MappedActivity, error) {
	var d ActivityDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return provider.MappedActivity{}, fmt.Errorf("%w: coros activity: %v", provider.ErrMapping, err)
	}
	s := d.Summary
	if s.LabelID == "" || s.StartTimestamp == 0 {
		return provider.MappedActivity{}, fmt.Errorf("%w: coros activity missing label id or start time", provider.ErrMapping)
	}

	class := provider.Classify(provider.Coros, strconv.Itoa(s.SportType), s.Name)

	var deviceName string
	if len(d.DeviceList) > 0 {
		deviceName = d.DeviceList[0].Name
	}
	var manufacturer string
	if fields := strings.Fields(deviceName); len(fields) > 0 {
		manufacturer = strings.ToUpper(fields[0])
	}

	activity := provider.Activity{
		Name:         s.Name,
		StartTime:    s.StartTimestamp * 10,
		Timezone:     provider.NormalizeTimezone(fixedZone(s.StartTimezone)),
		Distance:     s.Distance / centi,
		Duration:     s.TotalTime / centi,
		Manufacturer: manufacturer,
		Type:         class.Type,
		Subtype:      class.Subtype,
		IsEvent:      provider.IsRaceTitle(s.Name),
	}
	if s.StartLatitude != nil && s.StartLongitude != nil {
		lat, lng := *s.StartLatitude, *s.StartLongitude
		activity.StartLatitude = &lat
		activity.StartLongitude = &lng
	}

	m := provider.MappedActivity{
		Activity:           activity,
		Provider:           provider.Coros,
		ProviderActivityID: s.LabelID,
		// Imported files carry the recording device of another brand
		Original: manufacturer == "" || manufacturer == "COROS",
		Raw:      raw,
	}
	for _, e := range d.Equipments {
		if e.ID == "" {
			continue
		}
		m.Gears = append(m.Gears, mapEquipment(e))
	}
	return m, nil
}

// fixedZone names the whole-hour Etc zone for a quarter-hour offset.
// Etc zones invert the sign: UTC+1 is Etc/GMT-1.
func fixedZone(quarters int) string {
	if quarters == 0 || quarters%4 != 0 {
		return "UTC"
	}
	hours := quarters / 4
	if hours > 0 {
		return fmt.Sprintf("Etc/GMT-%d", hours)
	}
	return fmt.Sprintf("Etc/GMT+%d", -hours)
}
