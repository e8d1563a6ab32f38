package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunk(t *testing.T) {
	chunk, err := NewChunk("sess-1", 3, 7, StageText, TextPayload{Text: "hello"}, false)
	require.NoError(t, err)

	assert.Equal(t, TypeStream, chunk.Type)
	assert.Equal(t, "sess-1", chunk.SessionID)
	assert.Equal(t, uint64(3), chunk.Generation)
	assert.Equal(t, uint64(7), chunk.Sequence)
	assert.Equal(t, StageText, chunk.Stage)
	assert.False(t, chunk.Terminal)

	var payload TextPayload
	require.NoError(t, chunk.ParsePayload(&payload))
	assert.Equal(t, "hello", payload.Text)
}

func TestTypeForStage(t *testing.T) {
	tests := []struct {
		stage Stage
		want  MessageType
	}{
		{StageTranscript, TypeStream},
		{StageRouting, TypeStream},
		{StageText, TypeStream},
		{StageAudio, TypeStream},
		{StageStatus, TypeStatus},
		{StageError, TypeError},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			chunk, err := NewChunk("s", 0, 0, tt.stage, nil, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, chunk.Type)
		})
	}
}

func TestChunkRoundTrip(t *testing.T) {
	chunk, err := NewChunk("sess-2", 1, 0, StageError, ErrorPayload{Kind: ErrKindCircuitOpen, Message: "scott isolated"}, true)
	require.NoError(t, err)

	data, err := chunk.Bytes()
	require.NoError(t, err)

	parsed, err := ParseChunk(data)
	require.NoError(t, err)
	assert.Equal(t, TypeError, parsed.Type)
	assert.True(t, parsed.Terminal)

	var payload ErrorPayload
	require.NoError(t, parsed.ParsePayload(&payload))
	assert.Equal(t, ErrKindCircuitOpen, payload.Kind)
}

func TestParseChunkInvalid(t *testing.T) {
	_, err := ParseChunk([]byte("{not json"))
	assert.Error(t, err)
}
