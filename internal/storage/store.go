// Package storage keeps experiment runs on disk. Each run gets its own
// directory holding metadata.json, results.json and trajectory.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/knobsuite/internal/control"
	"github.com/san-kum/knobsuite/internal/knob"
)

const (
	metadataFile   = "metadata.json"
	resultsFile    = "results.json"
	trajectoryFile = "trajectory.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Timestamp time.Time          `json:"timestamp"`
	Mode      string             `json:"mode"`
	Channels  int                `json:"channels"`
	Backend   string             `json:"backend"`
	Seed      int64              `json:"seed"`
	Gains     control.Gains      `json:"gains"`
	Moves     int                `json:"moves"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Sample is one controller tick.
type Sample struct {
	Time     float64 `json:"time"` // seconds since the run started
	Channel  int     `json:"channel"`
	Target   float64 `json:"target"`
	Position float64 `json:"position"`
	Command  float64 `json:"command"`
	State    string  `json:"state"`
}

// Run is everything a finished experiment produced. Logs is indexed by
// channel.
type Run struct {
	Meta       RunMetadata
	Logs       [][]knob.LogRecord
	Trajectory []Sample
}

// ResultKey is the results.json key for channel ch.
func ResultKey(ch int) string { return fmt.Sprintf("knob%d", ch) }

func (s *Store) Save(run *Run) (string, error) {
	meta := run.Meta
	if meta.Name == "" {
		meta.Name = "run"
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if meta.Channels == 0 {
		meta.Channels = len(run.Logs)
	}
	if meta.Moves == 0 {
		for _, logs := range run.Logs {
			meta.Moves += len(logs)
		}
	}
	meta.ID = fmt.Sprintf("%s_%d", meta.Name, meta.Timestamp.UnixNano())
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, resultsFile), results(run.Logs)); err != nil {
		return "", err
	}
	if err := writeTrajectory(filepath.Join(runDir, trajectoryFile), run.Trajectory); err != nil {
		return "", err
	}
	run.Meta = meta
	return meta.ID, nil
}

func results(logs [][]knob.LogRecord) map[string][]knob.LogRecord {
	out := make(map[string][]knob.LogRecord, len(logs))
	for ch, l := range logs {
		if l == nil {
			l = []knob.LogRecord{}
		}
		out[ResultKey(ch)] = l
	}
	return out
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrajectory(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "channel", "target", "position", "command", "state"}); err != nil {
		return err
	}
	for _, smp := range samples {
		row := []string{
			strconv.FormatFloat(smp.Time, 'f', 6, 64),
			strconv.Itoa(smp.Channel),
			strconv.FormatFloat(smp.Target, 'f', 3, 64),
			strconv.FormatFloat(smp.Position, 'f', 3, 64),
			strconv.FormatFloat(smp.Command, 'f', 3, 64),
			smp.State,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the metadata of every stored run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadResults reads results.json back into per-channel logs. Keys that are
// not of the form knobN are ignored.
func (s *Store) LoadResults(runID string) ([][]knob.LogRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, resultsFile))
	if err != nil {
		return nil, err
	}
	return DecodeResults(data)
}

func DecodeResults(data []byte) ([][]knob.LogRecord, error) {
	var raw map[string][]knob.LogRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	byChannel := make(map[int][]knob.LogRecord, len(raw))
	channels := 0
	for key, logs := range raw {
		ch, err := strconv.Atoi(strings.TrimPrefix(key, "knob"))
		if err != nil || !strings.HasPrefix(key, "knob") || ch < 0 {
			continue
		}
		byChannel[ch] = logs
		if ch+1 > channels {
			channels = ch + 1
		}
	}

	out := make([][]knob.LogRecord, channels)
	for ch := range out {
		out[ch] = byChannel[ch]
	}
	return out, nil
}

func (s *Store) LoadTrajectory(runID string) ([]Sample, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []Sample{}, nil
	}

	samples := make([]Sample, 0, len(records)-1)
	for line, rec := range records[1:] {
		if len(rec) < 6 {
			continue
		}
		smp, err := parseSample(rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", trajectoryFile, line+2, err)
		}
		samples = append(samples, smp)
	}
	return samples, nil
}

func parseSample(rec []string) (Sample, error) {
	var (
		smp Sample
		err error
	)
	if smp.Time, err = strconv.ParseFloat(rec[0], 64); err != nil {
		return smp, err
	}
	if smp.Channel, err = strconv.Atoi(rec[1]); err != nil {
		return smp, err
	}
	if smp.Target, err = strconv.ParseFloat(rec[2], 64); err != nil {
		return smp, err
	}
	if smp.Position, err = strconv.ParseFloat(rec[3], 64); err != nil {
		return smp, err
	}
	if smp.Command, err = strconv.ParseFloat(rec[4], 64); err != nil {
		return smp, err
	}
	smp.State = rec[5]
	return smp, nil
}

// ChannelTrajectory returns the samples of one channel, in order.
func ChannelTrajectory(samples []Sample, ch int) []Sample {
	out := make([]Sample, 0)
	for _, smp := range samples {
		if smp.Channel == ch {
			out = append(out, smp)
		}
	}
	return out
}

// GroupByChannel splits a flat list of logs into channels 0..channels-1.
// Logs for other channels are dropped.
func GroupByChannel(logs []knob.LogRecord, channels int) [][]knob.LogRecord {
	out := make([][]knob.LogRecord, channels)
	for ch := range out {
		out[ch] = []knob.LogRecord{}
	}
	for _, rec := range logs {
		if rec.Channel >= 0 && rec.Channel < channels {
			out[rec.Channel] = append(out[rec.Channel], rec)
		}
	}
	return out
}

type exportData struct {
	Metadata   RunMetadata                 `json:"metadata"`
	Results    map[string][]knob.LogRecord `json:"results"`
	Trajectory []Sample                    `json:"trajectory,omitempty"`
}

// ExportJSON writes the whole run as one JSON document.
func ExportJSON(w io.Writer, run *Run) error {
	data := exportData{
		Metadata:   run.Meta,
		Results:    results(run.Logs),
		Trajectory: run.Trajectory,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
