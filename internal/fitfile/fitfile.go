// Package fitfile reads summaries from activity files and generates FIT
// files for activities created without a recording.
package fitfile

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"activity-provider-sync/internal/provider"
)

// File formats accepted for upload
const (
	FormatFIT = "fit"
	FormatTCX = "tcx"
	FormatGPX = "gpx"
)

// semicircles to degrees
const semicircleDegrees = 180.0 / (1 << 31)

// Summary is what the engine needs to know about an activity file
type Summary struct {
	Format         string
	StartTime      time.Time
	Duration       float64 // seconds
	Distance       float64 // meters
	Type           provider.ActivityType
	Subtype        provider.ActivitySubtype
	Manufacturer   string
	StartLatitude  *float64
	StartLongitude *float64
}

// Format returns the activity file format of path from its extension
func Format(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case FormatFIT, FormatTCX, FormatGPX:
		return ext, nil
	}
	return "", fmt.Errorf("unsupported activity file %q", filepath.Base(path))
}

// Inspect reads the summary of a FIT, TCX or GPX file
func Inspect(path string) (*Summary, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	switch format {
	case FormatTCX:
		return decodeTCX(f)
	case FormatGPX:
		return decodeGPX(f)
	}
	return Decode(f)
}

// Decode reads the summary of a FIT stream from its file id and first session
func Decode(r io.Reader) (*Summary, error) {
	s := &Summary{Format: FormatFIT}
	var sessions int

	dec := decoder.New(r)
	for dec.Next() {
		fit, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for _, msg := range fit.Messages {
			switch msg.Num {
			case typedef.MesgNumFileId:
				fileID := mesgdef.NewFileId(&msg)
				if s.Manufacturer == "" {
					s.Manufacturer = strings.ToUpper(fileID.Manufacturer.String())
				}
				if s.StartTime.IsZero() && !fileID.TimeCreated.IsZero() {
					s.StartTime = fileID.TimeCreated.UTC()
				}

			case typedef.MesgNumSession:
				session := mesgdef.NewSession(&msg)
				sessions++
				// Multisport files add their later legs to the totals
				s.Duration += float64(session.TotalElapsedTime) / 1000
				s.Distance += float64(session.TotalDistance) / 100
				if sessions > 1 {
					continue
				}
				if !session.StartTime.IsZero() {
					s.StartTime = session.StartTime.UTC()
				}
				s.Type, s.Subtype = classifySport(session.Sport, session.SubSport)
				if lat, ok := degrees(session.StartPositionLat); ok {
					if lng, ok := degrees(session.StartPositionLong); ok {
						s.StartLatitude, s.StartLongitude = &lat, &lng
					}
				}
			}
		}
	}

	if sessions == 0 {
		return nil, fmt.Errorf("no sessions found in FIT file")
	}
	return s, nil
}

func degrees(semicircles int32) (float64, bool) {
	if semicircles == math.MaxInt32 {
		return 0, false
	}
	return float64(semicircles) * semicircleDegrees, true
}

var sports = map[typedef.Sport]provider.ActivityType{
	typedef.SportRunning:            provider.TypeRun,
	typedef.SportCycling:            provider.TypeBike,
	typedef.SportSwimming:           provider.TypeSwim,
	typedef.SportWalking:            provider.TypeWalk,
	typedef.SportHiking:             provider.TypeHike,
	typedef.SportAlpineSkiing:       provider.TypeSki,
	typedef.SportCrossCountrySkiing: provider.TypeSki,
	typedef.SportTraining:           provider.TypeStrength,
}

var subSports = map[typedef.SubSport]provider.ActivitySubtype{
	typedef.SubSportTrail:           provider.SubtypeTrail,
	typedef.SubSportTreadmill:       provider.SubtypeIndoor,
	typedef.SubSportTrack:           provider.SubtypeTrack,
	typedef.SubSportRoad:            provider.SubtypeRoad,
	typedef.SubSportIndoorCycling:   provider.SubtypeIndoor,
	typedef.SubSportVirtualActivity: provider.SubtypeVirtual,
	typedef.SubSportMountain:        provider.SubtypeMountain,
	typedef.SubSportGravelCycling:   provider.SubtypeGravel,
	typedef.SubSportLapSwimming:     provider.SubtypePool,
	typedef.SubSportOpenWater:       provider.SubtypeOpenWater,
}

func classifySport(sport typedef.Sport, subSport typedef.SubSport) (provider.ActivityType, provider.ActivitySubtype) {
	t, ok := sports[sport]
	if !ok {
		return provider.TypeOther, provider.SubtypeNone
	}
	return t, subSports[subSport]
}

func fitSport(t provider.ActivityType, st provider.ActivitySubtype) (typedef.Sport, typedef.SubSport) {
	var sport typedef.Sport
	switch t {
	case provider.TypeRun:
		sport = typedef.SportRunning
	case provider.TypeBike:
		sport = typedef.SportCycling
	case provider.TypeSwim:
		sport = typedef.SportSwimming
	case provider.TypeWalk:
		sport = typedef.SportWalking
	case provider.TypeHike:
		sport = typedef.SportHiking
	case provider.TypeSki:
		sport = typedef.SportAlpineSkiing
	case provider.TypeStrength:
		return typedef.SportTraining, typedef.SubSportStrengthTraining
	default:
		sport = typedef.SportGeneric
	}

	subSport := typedef.SubSportGeneric
	switch st {
	case provider.SubtypeTrail:
		subSport = typedef.SubSportTrail
	case provider.SubtypeTrack:
		subSport = typedef.SubSportTrack
	case provider.SubtypeRoad:
		subSport = typedef.SubSportRoad
	case provider.SubtypeVirtual:
		subSport = typedef.SubSportVirtualActivity
	case provider.SubtypeMountain:
		subSport = typedef.SubSportMountain
	case provider.SubtypeGravel:
		subSport = typedef.SubSportGravelCycling
	case provider.SubtypePool:
		subSport = typedef.SubSportLapSwimming
	case provider.SubtypeOpenWater:
		subSport = typedef.SubSportOpenWater
	case provider.SubtypeIndoor:
		subSport = typedef.SubSportTreadmill
		if t == provider.TypeBike {
			subSport = typedef.SubSportIndoorCycling
		}
	}
	return sport, subSport
}

// Build encodes a manual activity as a FIT activity file holding one session
func Build(a provider.Activity) ([]byte, error) {
	if a.StartTime == 0 {
		return nil, fmt.Errorf("activity start time is required")
	}
	start := a.Start()
	end := start.Add(time.Duration(a.Duration * float64(time.Second)))
	sport, subSport := fitSport(a.Type, a.Subtype)

	fit := &proto.FIT{}

	fileID := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(start)
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	session := mesgdef.NewSession(nil).
		SetTimestamp(end).
		SetStartTime(start).
		SetSport(sport).
		SetSubSport(subSport).
		SetTotalElapsedTime(uint32(a.Duration * 1000)).
		SetTotalTimerTime(uint32(a.Duration * 1000)).
		SetTotalDistance(uint32(a.Distance * 100))
	if a.Name != "" {
		session.SetSportProfileName(a.Name)
	}
	fit.Messages = append(fit.Messages, session.ToMesg(nil))

	activity := mesgdef.NewActivity(nil).
		SetTimestamp(end).
		SetType(typedef.ActivityManual).
		SetNumSessions(1)
	fit.Messages = append(fit.Messages, activity.ToMesg(nil))

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(fit); err != nil {
		return nil, fmt.Errorf("failed to encode FIT file: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTemp builds the FIT file for a into dir and returns its path.
// An empty dir uses the system temp directory.
func WriteTemp(dir string, a provider.Activity) (string, error) {
	data, err := Build(a)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "manual-*.fit")
	if err != nil {
		return "", fmt.Errorf("failed to create FIT file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write FIT file: %w", err)
	}
	return f.Name(), nil
}
