package storage

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const kindMetadata = "metadata"

// TranscriptEntry is one line of a transcript. The first entry of every
// transcript is the metadata entry.
type TranscriptEntry struct {
	Kind       string  `json:"kind"`
	Timestamp  string  `json:"timestamp"`
	File       string  `json:"file,omitempty"`
	ResultCode string  `json:"result_code,omitempty"`
	Text       string  `json:"text,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Error      string  `json:"error,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	Server     string  `json:"server,omitempty"`
}

// TranscriptInfo summarizes a stored transcript.
type TranscriptInfo struct {
	UID         string          `json:"uid"`
	Entries     int             `json:"entries"`
	LatestEntry TranscriptEntry `json:"latest_entry"`
	Timestamp   string          `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_\-\.]+`)

// GroupName derives a directory name from a server url, e.g.
// "ws://127.0.0.1:8025/asr" becomes "127.0.0.1_8025".
func GroupName(serverURL string) string {
	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Host != "" {
		host = u.Host
	}
	name := strings.Trim(unsafeChars.ReplaceAllString(host, "_"), "_")
	if name == "" {
		return "default"
	}
	return name
}

// CreateTranscript starts a transcript under group and returns its uid.
func CreateTranscript(baseDir string, group string, meta TranscriptEntry) (string, error) {
	dir, err := ensureGroupDir(baseDir, group)
	if err != nil {
		return "", err
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta.Kind = kindMetadata
	if meta.Timestamp == "" {
		meta.Timestamp = time.Now().Format(time.RFC3339)
	}
	if err := writeTranscript(filepath.Join(dir, uid+".json"), []TranscriptEntry{meta}); err != nil {
		return "", err
	}
	return uid, nil
}

// AppendTranscript adds entries to an existing transcript.
func AppendTranscript(baseDir string, group string, uid string, entries ...TranscriptEntry) error {
	path, err := transcriptPath(baseDir, group, uid)
	if err != nil {
		return err
	}
	stored, err := readTranscript(path)
	if err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339)
	for _, e := range entries {
		if e.Timestamp == "" {
			e.Timestamp = now
		}
		if e.Kind == "" {
			e.Kind = "result"
		}
		stored = append(stored, e)
	}
	return writeTranscript(path, stored)
}

// GetTranscript returns the entries of a transcript without its metadata.
func GetTranscript(baseDir string, group string, uid string) ([]TranscriptEntry, error) {
	path, err := transcriptPath(baseDir, group, uid)
	if err != nil {
		return nil, err
	}
	entries, err := readTranscript(path)
	if err != nil {
		return nil, err
	}
	filtered := []TranscriptEntry{}
	for _, e := range entries {
		if e.Kind == kindMetadata {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// DeleteTranscript removes a transcript and reports whether it existed.
func DeleteTranscript(baseDir string, group string, uid string) bool {
	path, err := transcriptPath(baseDir, group, uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// ListTranscripts returns the transcripts of group, newest first. Transcripts
// without results are skipped.
func ListTranscripts(baseDir string, group string) []TranscriptInfo {
	list := []TranscriptInfo{}
	dir, err := groupDir(baseDir, group)
	if err != nil {
		return list
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		entries, err := readTranscript(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		results := 0
		var latest *TranscriptEntry
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Kind == kindMetadata {
				continue
			}
			results++
			if latest == nil {
				e := entries[i]
				latest = &e
			}
		}
		if latest == nil {
			continue
		}
		list = append(list, TranscriptInfo{
			UID:         strings.TrimSuffix(entry.Name(), ".json"),
			Entries:     results,
			LatestEntry: *latest,
			Timestamp:   latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp == list[j].Timestamp {
			return list[i].UID > list[j].UID
		}
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func groupDir(baseDir string, group string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(group) {
		return "", errors.New("invalid transcript group")
	}
	return filepath.Join(baseDir, group), nil
}

func ensureGroupDir(baseDir string, group string) (string, error) {
	path, err := groupDir(baseDir, group)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func transcriptPath(baseDir string, group string, uid string) (string, error) {
	dir, err := groupDir(baseDir, group)
	if err != nil {
		return "", err
	}
	if !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid transcript path")
	}
	return filepath.Join(dir, uid+".json"), nil
}

func readTranscript(path string) ([]TranscriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeTranscript(path string, entries []TranscriptEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
