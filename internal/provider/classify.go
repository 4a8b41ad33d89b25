package provider

import (
	"strings"
	"unicode"
)

// Classification is the canonical (type, subtype) pair of an activity
type Classification struct {
	Type    ActivityType
	Subtype ActivitySubtype
}

// ambiguous marks provider codes that say nothing useful about the sport
var ambiguous = Classification{Type: TypeOther}

var stravaTypes = map[string]Classification{
	"Run":              {TypeRun, SubtypeRoad},
	"TrailRun":         {TypeRun, SubtypeTrail},
	"VirtualRun":       {TypeRun, SubtypeVirtual},
	"Ride":             {TypeBike, SubtypeRoad},
	"EBikeRide":        {TypeBike, SubtypeRoad},
	"MountainBikeRide": {TypeBike, SubtypeMountain},
	"GravelRide":       {TypeBike, SubtypeGravel},
	"VirtualRide":      {TypeBike, SubtypeVirtual},
	"Swim":             {TypeSwim, SubtypeNone},
	"Walk":             {TypeWalk, SubtypeNone},
	"Hike":             {TypeHike, SubtypeNone},
	"AlpineSki":        {TypeSki, SubtypeNone},
	"BackcountrySki":   {TypeSki, SubtypeBackcountry},
	"NordicSki":        {TypeSki, SubtypeNone},
	"WeightTraining":   {TypeStrength, SubtypeNone},
	"Workout":          ambiguous,
}

var garminTypes = map[string]Classification{
	"running":                            {TypeRun, SubtypeNone},
	"street_running":                     {TypeRun, SubtypeRoad},
	"trail_running":                      {TypeRun, SubtypeTrail},
	"treadmill_running":                  {TypeRun, SubtypeIndoor},
	"track_running":                      {TypeRun, SubtypeTrack},
	"virtual_run":                        {TypeRun, SubtypeVirtual},
	"cycling":                            {TypeBike, SubtypeNone},
	"road_biking":                        {TypeBike, SubtypeRoad},
	"mountain_biking":                    {TypeBike, SubtypeMountain},
	"gravel_cycling":                     {TypeBike, SubtypeGravel},
	"indoor_cycling":                     {TypeBike, SubtypeIndoor},
	"virtual_ride":                       {TypeBike, SubtypeVirtual},
	"lap_swimming":                       {TypeSwim, SubtypePool},
	"open_water_swimming":                {TypeSwim, SubtypeOpenWater},
	"walking":                            {TypeWalk, SubtypeNone},
	"hiking":                             {TypeHike, SubtypeNone},
	"resort_skiing_snowboarding_ws":      {TypeSki, SubtypeNone},
	"backcountry_skiing_snowboarding_ws": {TypeSki, SubtypeBackcountry},
	"cross_country_skiing_ws":            {TypeSki, SubtypeNone},
	"strength_training":                  {TypeStrength, SubtypeNone},
	"other":                              ambiguous,
	"uncategorized":                      ambiguous,
	"multi_sport":                        ambiguous,
}

var corosTypes = map[string]Classification{
	"100":   {TypeRun, SubtypeRoad},
	"101":   {TypeRun, SubtypeIndoor},
	"102":   {TypeRun, SubtypeTrail},
	"103":   {TypeRun, SubtypeTrack},
	"104":   {TypeHike, SubtypeNone},
	"105":   {TypeHike, SubtypeNone},
	"200":   {TypeBike, SubtypeRoad},
	"201":   {TypeBike, SubtypeIndoor},
	"202":   {TypeBike, SubtypeRoad},
	"203":   {TypeBike, SubtypeGravel},
	"204":   {TypeBike, SubtypeMountain},
	"300":   {TypeSwim, SubtypePool},
	"301":   {TypeSwim, SubtypeOpenWater},
	"402":   {TypeStrength, SubtypeNone},
	"500":   {TypeSki, SubtypeNone},
	"501":   {TypeSki, SubtypeNone},
	"502":   {TypeSki, SubtypeNone},
	"503":   {TypeSki, SubtypeBackcountry},
	"900":   {TypeWalk, SubtypeNone},
	"10000": ambiguous,
}

func codeTable(id ID) map[string]Classification {
	switch id {
	case Strava:
		return stravaTypes
	case Garmin:
		return garminTypes
	case Coros:
		return corosTypes
	}
	return nil
}

var titleTypes = map[string]ActivityType{
	"run": TypeRun, "runs": TypeRun, "running": TypeRun, "jog": TypeRun, "jogging": TypeRun,
	"ride": TypeBike, "rides": TypeBike, "riding": TypeBike, "bike": TypeBike, "biking": TypeBike,
	"cycle": TypeBike, "cycling": TypeBike, "mtb": TypeBike,
	"swim": TypeSwim, "swimming": TypeSwim,
	"walk": TypeWalk, "walking": TypeWalk,
	"hike": TypeHike, "hiking": TypeHike,
	"ski": TypeSki, "skiing": TypeSki,
	"strength": TypeStrength, "gym": TypeStrength, "weights": TypeStrength,
}

type subtypeHint struct {
	subtype ActivitySubtype
	types   []ActivityType
}

var titleSubtypes = map[string]subtypeHint{
	"trail":     {SubtypeTrail, []ActivityType{TypeRun}},
	"treadmill": {SubtypeIndoor, []ActivityType{TypeRun}},
	"indoor":    {SubtypeIndoor, []ActivityType{TypeRun, TypeBike}},
	"turbo":     {SubtypeIndoor, []ActivityType{TypeBike}},
	"track":     {SubtypeTrack, []ActivityType{TypeRun}},
	"zwift":     {SubtypeVirtual, []ActivityType{TypeRun, TypeBike}},
	"virtual":   {SubtypeVirtual, []ActivityType{TypeRun, TypeBike}},
	"gravel":    {SubtypeGravel, []ActivityType{TypeBike}},
	"mtb":       {SubtypeMountain, []ActivityType{TypeBike}},
	"mountain":  {SubtypeMountain, []ActivityType{TypeBike}},
	"pool":      {SubtypePool, []ActivityType{TypeSwim}},
	"lake":      {SubtypeOpenWater, []ActivityType{TypeSwim}},
	"sea":       {SubtypeOpenWater, []ActivityType{TypeSwim}},
	"open":      {SubtypeOpenWater, []ActivityType{TypeSwim}},
}

var raceWords = map[string]bool{
	"race": true, "marathon": true, "halfmarathon": true, "parkrun": true,
	"ultra": true, "triathlon": true, "duathlon": true,
}

// Classify maps a provider type code plus activity title to a canonical
// classification. The provider code wins when it is specific; the title is
// consulted when the code is unknown or ambiguous, and to fill a missing subtype.
func Classify(id ID, code, title string) Classification {
	words := titleWords(title)

	c, known := codeTable(id)[code]
	if !known || c == ambiguous {
		c = ambiguous
		for _, w := range words {
			if t, ok := titleTypes[w]; ok {
				c = Classification{Type: t}
				break
			}
		}
	}

	if c.Subtype == SubtypeNone {
		for _, w := range words {
			hint, ok := titleSubtypes[w]
			if !ok || !hint.allows(c.Type) {
				continue
			}
			c.Subtype = hint.subtype
			break
		}
	}

	return c
}

// IsRaceTitle reports whether a title names a race or organised event
func IsRaceTitle(title string) bool {
	for _, w := range titleWords(title) {
		if raceWords[w] {
			return true
		}
	}
	return false
}

func (h subtypeHint) allows(t ActivityType) bool {
	for _, allowed := range h.types {
		if allowed == t {
			return true
		}
	}
	return false
}

func titleWords(title string) []string {
	return strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
