package provider

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		id    ID
		code  string
		title string
		want  Classification
	}{
		{"strava trail run", Strava, "TrailRun", "Morning", Classification{TypeRun, SubtypeTrail}},
		{"strava code beats title", Strava, "Ride", "Morning run", Classification{TypeBike, SubtypeRoad}},
		{"strava ambiguous workout", Strava, "Workout", "Gym session", Classification{TypeStrength, SubtypeNone}},
		{"strava unknown code uses title", Strava, "Kitesurf", "Evening ride", Classification{TypeBike, SubtypeNone}},
		{"garmin generic run gets title subtype", Garmin, "running", "Treadmill intervals", Classification{TypeRun, SubtypeIndoor}},
		{"garmin title subtype must fit type", Garmin, "cycling", "Trail loop", Classification{TypeBike, SubtypeNone}},
		{"garmin open water", Garmin, "open_water_swimming", "", Classification{TypeSwim, SubtypeOpenWater}},
		{"coros trail run", Coros, "102", "", Classification{TypeRun, SubtypeTrail}},
		{"coros ambiguous with title", Coros, "10000", "Hike up Arthur's Seat", Classification{TypeHike, SubtypeNone}},
		{"nothing known", Coros, "99999", "Afternoon", Classification{TypeOther, SubtypeNone}},
		{"unknown provider", ID("polar"), "Run", "Zwift run", Classification{TypeRun, SubtypeVirtual}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.id, tt.code, tt.title)
			if got != tt.want {
				t.Errorf("Classify(%s, %q, %q) = %+v, want %+v", tt.id, tt.code, tt.title, got, tt.want)
			}
		})
	}
}

func TestIsRaceTitle(t *testing.T) {
	for title, want := range map[string]bool{
		"Edinburgh Marathon":    true,
		"Saturday parkrun #312": true,
		"Club RACE day":         true,
		"Easy recovery":         false,
		"Racing thoughts":       false,
		"":                      false,
	} {
		if got := IsRaceTitle(title); got != want {
			t.Errorf("IsRaceTitle(%q) = %v, want %v", title, got, want)
		}
	}
}
