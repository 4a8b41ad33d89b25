package fitfile

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"activity-provider-sync/internal/provider"
)

type tcxDatabase struct {
	Activities []struct {
		Sport string `xml:"Sport,attr"`
		Laps  []struct {
			StartTime        string  `xml:"StartTime,attr"`
			TotalTimeSeconds float64 `xml:"TotalTimeSeconds"`
			DistanceMeters   float64 `xml:"DistanceMeters"`
			Trackpoints      []struct {
				Position *struct {
					Latitude  float64 `xml:"LatitudeDegrees"`
					Longitude float64 `xml:"LongitudeDegrees"`
				} `xml:"Position"`
			} `xml:"Track>Trackpoint"`
		} `xml:"Lap"`
		Creator string `xml:"Creator>Name"`
	} `xml:"Activities>Activity"`
}

var tcxSports = map[string]provider.ActivityType{
	"running": provider.TypeRun,
	"biking":  provider.TypeBike,
}

func decodeTCX(r io.Reader) (*Summary, error) {
	var tcx tcxDatabase
	if err := xml.NewDecoder(r).Decode(&tcx); err != nil {
		return nil, fmt.Errorf("failed to decode TCX file: %w", err)
	}
	if len(tcx.Activities) == 0 || len(tcx.Activities[0].Laps) == 0 {
		return nil, fmt.Errorf("no activity data found in TCX file")
	}

	activity := tcx.Activities[0]
	s := &Summary{Format: FormatTCX, Type: provider.TypeOther}
	if t, ok := tcxSports[strings.ToLower(activity.Sport)]; ok {
		s.Type = t
	}

	start, err := time.Parse(time.RFC3339, activity.Laps[0].StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid TCX lap start time: %w", err)
	}
	s.StartTime = start.UTC()

	for _, lap := range activity.Laps {
		s.Duration += lap.TotalTimeSeconds
		s.Distance += lap.DistanceMeters
		for _, tp := range lap.Trackpoints {
			if tp.Position != nil && s.StartLatitude == nil {
				lat, lng := tp.Position.Latitude, tp.Position.Longitude
				s.StartLatitude, s.StartLongitude = &lat, &lng
			}
		}
	}

	if creator := strings.Fields(activity.Creator); len(creator) > 0 {
		s.Manufacturer = strings.ToUpper(creator[0])
	}
	return s, nil
}

type gpxFile struct {
	Creator string `xml:"creator,attr"`
	Tracks  []struct {
		Name     string `xml:"name"`
		Type     string `xml:"type"`
		Segments []struct {
			Points []struct {
				Lat  float64 `xml:"lat,attr"`
				Lon  float64 `xml:"lon,attr"`
				Time string  `xml:"time"`
			} `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
}

func decodeGPX(r io.Reader) (*Summary, error) {
	var gpx gpxFile
	if err := xml.NewDecoder(r).Decode(&gpx); err != nil {
		return nil, fmt.Errorf("failed to decode GPX file: %w", err)
	}

	s := &Summary{Format: FormatGPX}
	var first, last time.Time
	for _, track := range gpx.Tracks {
		for _, seg := range track.Segments {
			for _, pt := range seg.Points {
				t, err := time.Parse(time.RFC3339, pt.Time)
				if err != nil {
					continue
				}
				if first.IsZero() {
					first = t
					lat, lng := pt.Lat, pt.Lon
					s.StartLatitude, s.StartLongitude = &lat, &lng
				}
				last = t
			}
		}
	}
	if first.IsZero() {
		return nil, fmt.Errorf("no timed track points found in GPX file")
	}

	s.StartTime = first.UTC()
	s.Duration = last.Sub(first).Seconds()

	code, title := "", ""
	if len(gpx.Tracks) > 0 {
		code, title = gpx.Tracks[0].Type, gpx.Tracks[0].Name
	}
	// GPX track types follow Strava's names when present
	class := provider.Classify(provider.Strava, code, title+" "+code)
	s.Type, s.Subtype = class.Type, class.Subtype

	if creator := strings.Fields(gpx.Creator); len(creator) > 0 {
		s.Manufacturer = strings.ToUpper(creator[0])
	}
	return s, nil
}
