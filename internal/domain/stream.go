package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StreamKind names one buffered media stream of a meeting.
type StreamKind string

const (
	StreamVideo  StreamKind = "video"
	StreamMic    StreamKind = "mic"
	StreamSystem StreamKind = "system"
)

// StreamKinds lists every buffered stream kind in a stable order.
var StreamKinds = []StreamKind{StreamVideo, StreamMic, StreamSystem}

// SeedStream is marked connected when a meeting is created so status queries
// return a well-formed document right away.
const SeedStream = StreamSystem

// StreamConnected is the stored status value of a connected stream.
const StreamConnected = "connected"

// Field names of this kind inside the session record document.
func (k StreamKind) StatusField() string { return string(k) }
func (k StreamKind) BytesField() string  { return string(k) + "_bytes" }
func (k StreamKind) ChunksField() string { return string(k) + "_chunks" }

// StreamState is the connection flag and counters for one stream kind.
type StreamState struct {
	Connected bool  `json:"connected"`
	Bytes     int64 `json:"bytes"`
	Chunks    int64 `json:"chunks"`
}

// SessionRecord is the shared per-meeting status document. A nil entry means
// no connection of that kind was ever established for the meeting.
type SessionRecord struct {
	Video  *StreamState
	Mic    *StreamState
	System *StreamState
}

func (r *SessionRecord) Stream(k StreamKind) *StreamState {
	switch k {
	case StreamVideo:
		return r.Video
	case StreamMic:
		return r.Mic
	case StreamSystem:
		return r.System
	}
	return nil
}

func (r *SessionRecord) setStream(k StreamKind, s *StreamState) {
	switch k {
	case StreamVideo:
		r.Video = s
	case StreamMic:
		r.Mic = s
	case StreamSystem:
		r.System = s
	}
}

func (r SessionRecord) Empty() bool {
	return r.Video == nil && r.Mic == nil && r.System == nil
}

// Document renders the record as the flat status document clients expect,
// e.g. {"video":"connected","video_bytes":60,"video_chunks":3}.
func (r SessionRecord) Document() map[string]any {
	doc := make(map[string]any)
	for _, k := range StreamKinds {
		s := r.Stream(k)
		if s == nil {
			continue
		}
		if s.Connected {
			doc[k.StatusField()] = StreamConnected
		}
		doc[k.BytesField()] = s.Bytes
		doc[k.ChunksField()] = s.Chunks
	}
	return doc
}

func (r SessionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	fields := make(map[string]string, len(doc))
	for key, v := range doc {
		switch t := v.(type) {
		case string:
			fields[key] = t
		case float64:
			fields[key] = strconv.FormatInt(int64(t), 10)
		}
	}
	parsed, err := SessionRecordFromFields(fields)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SessionRecordFromFields decodes the stored field map of a session record.
// Unknown fields are ignored.
func SessionRecordFromFields(fields map[string]string) (SessionRecord, error) {
	var rec SessionRecord
	for _, k := range StreamKinds {
		status, hasStatus := fields[k.StatusField()]
		rawBytes, hasBytes := fields[k.BytesField()]
		rawChunks, hasChunks := fields[k.ChunksField()]
		if !hasStatus && !hasBytes && !hasChunks {
			continue
		}
		s := &StreamState{Connected: status == StreamConnected}
		if hasBytes {
			n, err := strconv.ParseInt(rawBytes, 10, 64)
			if err != nil {
				return SessionRecord{}, fmt.Errorf("%s: %w", k.BytesField(), err)
			}
			s.Bytes = n
		}
		if hasChunks {
			n, err := strconv.ParseInt(rawChunks, 10, 64)
			if err != nil {
				return SessionRecord{}, fmt.Errorf("%s: %w", k.ChunksField(), err)
			}
			s.Chunks = n
		}
		rec.setStream(k, s)
	}
	return rec, nil
}
