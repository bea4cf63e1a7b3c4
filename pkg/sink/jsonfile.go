package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
)

// Reading files are named like 2024_03_05_14_07_09_123-0500.json: local
// time down to milliseconds followed by the zone offset.
const (
	fileSecondsLayout = "2006_01_02_15_04_05"
	fileParseLayout   = "2006_01_02_15_04_05.000-0700"
)

// JSONFiles stores every reading as its own JSON document, named after the
// local time it was received. Failures are not stored.
type JSONFiles struct {
	dir string
	loc *time.Location
	log zerolog.Logger
	now func() time.Time
}

var (
	_ acquire.Sink      = (*JSONFiles)(nil)
	_ acquire.EventSink = (*JSONFiles)(nil)
)

// NewJSONFiles creates dir if needed. An empty timeZone means local time.
func NewJSONFiles(dir, timeZone string, logger zerolog.Logger) (*JSONFiles, error) {
	loc := time.Local
	if timeZone != "" {
		var err error
		if loc, err = time.LoadLocation(timeZone); err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	return &JSONFiles{
		dir: dir,
		loc: loc,
		log: logger.With().Str("sink", "json").Str("dir", dir).Logger(),
		now: time.Now,
	}, nil
}

// FileName returns the file name for a reading received at t.
func FileName(t time.Time) string {
	return fileStem(t) + ".json"
}

func fileStem(t time.Time) string {
	return fmt.Sprintf("%s_%03d%s", t.Format(fileSecondsLayout), t.Nanosecond()/int(time.Millisecond), t.Format("-0700"))
}

// ParseFileName recovers the receive time from a reading file name.
func ParseFileName(name string) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(name), ".json")
	if i := strings.IndexByte(stem, '~'); i >= 0 {
		stem = stem[:i]
	}
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return time.Time{}, fmt.Errorf("not a reading file name: %q", name)
	}
	return time.Parse(fileParseLayout, stem[:i]+"."+stem[i+1:])
}

// OnEvent stores readings under the time the loop received them.
func (j *JSONFiles) OnEvent(ev acquire.Event) {
	if ev.Kind != acquire.EventReading {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = j.now()
	}
	j.store(at, ev.Reading)
}

func (j *JSONFiles) OnReading(r frame.Reading) {
	j.store(j.now(), r)
}

func (j *JSONFiles) store(at time.Time, r frame.Reading) {
	if _, err := j.write(at.In(j.loc), r); err != nil {
		j.log.Error().Err(err).Msg("failed to store reading")
	}
}

func (j *JSONFiles) OnFailure(acquire.TransportFailure) {}

func (j *JSONFiles) OnDecodeError(frame.DecodeError) {}

// write stores r and returns the path. Readings that land on the same
// millisecond get a numeric suffix instead of overwriting each other.
func (j *JSONFiles) write(at time.Time, r frame.Reading) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reading: %w", err)
	}

	stem := fileStem(at)
	name := stem + ".json"
	for i := 1; ; i++ {
		path := filepath.Join(j.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			name = fmt.Sprintf("%s~%d.json", stem, i)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, f.Close()
	}
}

// StoredReading is a reading loaded back from a JSON file.
type StoredReading struct {
	At      time.Time
	Reading frame.Reading
}

// ReadDir loads every reading file in dir, oldest first. Files whose names
// do not carry a timestamp are skipped.
func ReadDir(dir string) ([]StoredReading, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}

	out := make([]StoredReading, 0, len(paths))
	for _, p := range paths {
		at, err := ParseFileName(p)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		var r frame.Reading
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		out = append(out, StoredReading{At: at, Reading: r})
	}

	slices.SortStableFunc(out, func(a, b StoredReading) int {
		return a.At.Compare(b.At)
	})
	return out, nil
}
