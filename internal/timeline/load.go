package timeline

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML layout of a project.
type File struct {
	Sources     []SourceFile `yaml:"sources"`
	VideoTracks []TrackFile  `yaml:"video_tracks"`
	AudioTracks []TrackFile  `yaml:"audio_tracks"`
	Playback    struct {
		Playhead float64 `yaml:"playhead"`
		Speed    float64 `yaml:"speed"`
	} `yaml:"playback"`
}

// SourceFile describes an imported media file.
type SourceFile struct {
	ID       string   `yaml:"id"`
	Path     string   `yaml:"path"`
	Duration *float64 `yaml:"duration"`
}

// TrackFile describes a track.
type TrackFile struct {
	ID    string     `yaml:"id"`
	Muted bool       `yaml:"muted"`
	Clips []ClipFile `yaml:"clips"`
}

// ClipFile describes a placed clip. SourceOut defaults to SourceIn+Duration.
type ClipFile struct {
	ID        string   `yaml:"id"`
	Source    string   `yaml:"source"`
	Start     float64  `yaml:"start"`
	Duration  float64  `yaml:"duration"`
	SourceIn  float64  `yaml:"source_in"`
	SourceOut *float64 `yaml:"source_out"`
}

// LoadProject reads and validates a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("timeline: failed to read project: %w", err)
	}
	return ParseProject(data)
}

// ParseProject decodes YAML project data.
func ParseProject(data []byte) (*Project, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("timeline: failed to parse project: %w", err)
	}
	return f.Build()
}

// Build converts the file layout into a Project.
//
// Validation rejects duplicate IDs, clips referencing unknown sources,
// negative placement and SourceOut-SourceIn differing from Duration.
func (f *File) Build() (*Project, error) {
	p := &Project{
		Sources: make(map[ClipID]Source, len(f.Sources)),
		Playback: Playback{
			State:    Stopped,
			Playhead: max(f.Playback.Playhead, 0),
			Speed:    f.Playback.Speed,
		},
	}
	if p.Playback.Speed <= 0 {
		p.Playback.Speed = 1
	}

	for _, s := range f.Sources {
		if s.ID == "" || s.Path == "" {
			return nil, fmt.Errorf("timeline: source requires id and path")
		}
		if _, dup := p.Sources[ClipID(s.ID)]; dup {
			return nil, fmt.Errorf("timeline: duplicate source %q", s.ID)
		}
		p.Sources[ClipID(s.ID)] = Source{ID: ClipID(s.ID), Path: s.Path, Duration: s.Duration}
	}

	seen := make(map[TimelineClipID]bool)
	build := func(tracks []TrackFile) ([]Track, error) {
		out := make([]Track, 0, len(tracks))
		for _, tf := range tracks {
			tr := Track{ID: TrackID(tf.ID), Muted: tf.Muted}
			for _, cf := range tf.Clips {
				c, err := p.buildClip(cf)
				if err != nil {
					return nil, fmt.Errorf("timeline: track %q: %w", tf.ID, err)
				}
				if seen[c.ID] {
					return nil, fmt.Errorf("timeline: duplicate clip %q", c.ID)
				}
				seen[c.ID] = true
				tr.Clips = append(tr.Clips, c)
			}
			out = append(out, tr)
		}
		return out, nil
	}

	var err error
	if p.Timeline.VideoTracks, err = build(f.VideoTracks); err != nil {
		return nil, err
	}
	if p.Timeline.AudioTracks, err = build(f.AudioTracks); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) buildClip(cf ClipFile) (TimelineClip, error) {
	if cf.ID == "" {
		return TimelineClip{}, fmt.Errorf("clip requires id")
	}
	if _, ok := p.Sources[ClipID(cf.Source)]; !ok {
		return TimelineClip{}, fmt.Errorf("clip %q references unknown source %q", cf.ID, cf.Source)
	}
	if cf.Start < 0 || cf.Duration <= 0 || cf.SourceIn < 0 {
		return TimelineClip{}, fmt.Errorf("clip %q has invalid placement", cf.ID)
	}
	out := cf.SourceIn + cf.Duration
	if cf.SourceOut != nil {
		if math.Abs(*cf.SourceOut-cf.SourceIn-cf.Duration) > 1e-6 {
			return TimelineClip{}, fmt.Errorf("clip %q: source_out - source_in must equal duration", cf.ID)
		}
		out = *cf.SourceOut
	}
	return TimelineClip{
		ID:            TimelineClipID(cf.ID),
		SourceID:      ClipID(cf.Source),
		TimelineStart: cf.Start,
		Duration:      cf.Duration,
		SourceIn:      cf.SourceIn,
		SourceOut:     out,
	}, nil
}
