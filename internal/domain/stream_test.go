package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecordDocumentIsFlat(t *testing.T) {
	rec := SessionRecord{Video: &StreamState{Connected: true, Bytes: 60, Chunks: 3}}

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"video":"connected","video_bytes":60,"video_chunks":3}`, string(b))
}

func TestEmptySessionRecordEncodesAsEmptyObject(t *testing.T) {
	b, err := json.Marshal(SessionRecord{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
	assert.True(t, SessionRecord{}.Empty())
}

func TestSessionRecordFromFields(t *testing.T) {
	rec, err := SessionRecordFromFields(map[string]string{
		"system":        "connected",
		"system_bytes":  "0",
		"system_chunks": "0",
		"mic_bytes":     "12",
		"mic_chunks":    "2",
		"unrelated":     "x",
	})
	require.NoError(t, err)

	require.NotNil(t, rec.System)
	assert.True(t, rec.System.Connected)
	require.NotNil(t, rec.Mic)
	assert.False(t, rec.Mic.Connected)
	assert.Equal(t, int64(12), rec.Mic.Bytes)
	assert.Equal(t, int64(2), rec.Mic.Chunks)
	assert.Nil(t, rec.Video)
}

func TestSessionRecordFromFieldsRejectsGarbageCounter(t *testing.T) {
	_, err := SessionRecordFromFields(map[string]string{"video_bytes": "lots"})
	assert.Error(t, err)
}

func TestSessionRecordRoundTripsThroughDocument(t *testing.T) {
	in := SessionRecord{
		Video:  &StreamState{Connected: true, Bytes: 10, Chunks: 1},
		System: &StreamState{Connected: true},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out SessionRecord
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}
