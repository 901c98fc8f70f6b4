package streaming

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"time"
)

const mpdProfile = "urn:mpeg:dash:profile:isoff-live:2011"

type MPD struct {
	XMLName                   xml.Name `xml:"urn:mpeg:dash:schema:mpd:2011 MPD"`
	Type                      string   `xml:"type,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr,omitempty"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr,omitempty"`
	MinimumUpdatePeriod       string   `xml:"minimumUpdatePeriod,attr,omitempty"`
	Periods                   []Period `xml:"Period"`
}

type Period struct {
	ID             string          `xml:"id,attr"`
	Start          string          `xml:"start,attr"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	ID               int              `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	Representations  []Representation `xml:"Representation"`
}

type Representation struct {
	ID                string          `xml:"id,attr"`
	MimeType          string          `xml:"mimeType,attr"`
	Codecs            string          `xml:"codecs,attr,omitempty"`
	Bandwidth         int             `xml:"bandwidth,attr"`
	Width             int             `xml:"width,attr,omitempty"`
	Height            int             `xml:"height,attr,omitempty"`
	AudioSamplingRate int             `xml:"audioSamplingRate,attr,omitempty"`
	SegmentTemplate   SegmentTemplate `xml:"SegmentTemplate"`
}

type SegmentTemplate struct {
	Timescale      int             `xml:"timescale,attr"`
	Initialization string          `xml:"initialization,attr"`
	Media          string          `xml:"media,attr"`
	StartNumber    int             `xml:"startNumber,attr"`
	Timeline       SegmentTimeline `xml:"SegmentTimeline"`
}

type SegmentTimeline struct {
	S []TimelineEntry `xml:"S"`
}

type TimelineEntry struct {
	T int64 `xml:"t,attr"`
	D int64 `xml:"d,attr"`
}

// ManifestOptions describes the presentation around the recorded segments.
type ManifestOptions struct {
	Static         bool
	Bandwidth      int
	Width          int
	Height         int
	SampleRate     int
	AvailableSince time.Time
	Total          time.Duration
}

// GenerateManifest builds the manifest from the segments written so far.
func (s *Segmenter) GenerateManifest(opts ManifestOptions) *MPD {
	mpd := &MPD{
		Type:          "dynamic",
		Profiles:      mpdProfile,
		MinBufferTime: isoDuration(s.segmentDuration),
	}
	if opts.Static {
		mpd.Type = "static"
		mpd.MediaPresentationDuration = isoDuration(opts.Total)
	} else {
		mpd.MinimumUpdatePeriod = isoDuration(s.segmentDuration)
		if !opts.AvailableSince.IsZero() {
			mpd.AvailabilityStartTime = opts.AvailableSince.UTC().Format(time.RFC3339)
		}
	}

	period := Period{ID: "0", Start: "PT0S"}
	for rep, track := range s.tracks {
		set := AdaptationSet{ID: rep, SegmentAlignment: true}
		r := Representation{
			ID:        fmt.Sprintf("%d", rep),
			MimeType:  track.MimeType,
			Codecs:    track.Codecs,
			Bandwidth: opts.Bandwidth,
			SegmentTemplate: SegmentTemplate{
				Timescale:      track.Timescale,
				Initialization: fmt.Sprintf("init-stream$RepresentationID$.%s", track.Ext),
				Media:          fmt.Sprintf("chunk-stream$RepresentationID$-$Number%%05d$.%s", track.Ext),
				StartNumber:    1,
			},
		}
		if rep == RepresentationVideo {
			set.ContentType = "video"
			r.Width, r.Height = opts.Width, opts.Height
		} else {
			set.ContentType = "audio"
			r.AudioSamplingRate = opts.SampleRate
		}
		for _, seg := range s.Segments(rep) {
			r.SegmentTemplate.Timeline.S = append(r.SegmentTemplate.Timeline.S, TimelineEntry{
				T: ToTimescale(seg.Start, track.Timescale),
				D: ToTimescale(seg.Duration, track.Timescale),
			})
		}
		set.Representations = []Representation{r}
		period.AdaptationSets = append(period.AdaptationSets, set)
	}
	mpd.Periods = []Period{period}
	return mpd
}

// WriteManifest publishes the manifest atomically.
func (s *Segmenter) WriteManifest(mpd *MPD) error {
	body, err := xml.MarshalIndent(mpd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data := append([]byte(xml.Header), body...)
	data = append(data, '\n')
	return writeFileAtomic(filepath.Join(s.dir, ManifestName), data)
}

// ToTimescale converts d to ticks of a clock running at timescale Hz.
func ToTimescale(d time.Duration, timescale int) int64 {
	return int64(d) * int64(timescale) / int64(time.Second)
}

func isoDuration(d time.Duration) string {
	return fmt.Sprintf("PT%.3fS", d.Seconds())
}
