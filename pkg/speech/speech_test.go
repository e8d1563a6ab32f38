package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0x01, 0x02}, body)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " hello panda "})
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	text, err := tr.Transcribe(context.Background(), []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, "hello panda", text)
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("audio"))
	require.Error(t, err)
}

func TestSynthesizeStreamsSegments(t *testing.T) {
	// 1.5 segments worth of audio: one full segment plus a short tail.
	audio := make([]byte, segmentBytes+segmentBytes/2)
	for i := range audio {
		audio[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "af_heart", req.Voice)
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	s := NewSynthesizer(srv.URL, "af_heart")
	stream, err := s.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	defer stream.Close()

	var got []byte
	for {
		seg, err := stream.Read()
		require.NoError(t, err)
		if seg == nil || len(seg.Data) == 0 {
			break
		}
		assert.Equal(t, Format, seg.Format)
		assert.Equal(t, SampleRate, seg.SampleRate)
		got = append(got, seg.Data...)
	}
	assert.Equal(t, audio, got)
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSynthesizer(srv.URL, "")
	_, err := s.Synthesize(context.Background(), "hello")
	require.Error(t, err)
}
