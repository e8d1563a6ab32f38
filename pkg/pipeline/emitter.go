package pipeline

import (
	"github.com/pandalabs/go-panda/pkg/protocol"
)

// Publisher receives chunks as the pipeline produces them.
// Satisfied by *bus.Bus.
type Publisher interface {
	Publish(chunk protocol.StreamChunk)
}

// emitter stamps chunks for one generation with a strictly increasing
// sequence. It is confined to the run's goroutine, so no locking.
type emitter struct {
	pub        Publisher
	sessionID  string
	generation uint64
	seq        uint64
	terminal   bool
}

func newEmitter(pub Publisher, sessionID string, generation uint64) *emitter {
	return &emitter{pub: pub, sessionID: sessionID, generation: generation}
}

// emit publishes one chunk. After a terminal chunk the emitter goes
// silent so a generation can never produce output past its end.
func (e *emitter) emit(stage protocol.Stage, payload any, terminal bool) {
	if e.terminal {
		return
	}
	chunk, err := protocol.NewChunk(e.sessionID, e.generation, e.seq, stage, payload, terminal)
	if err != nil {
		return
	}
	e.seq++
	e.terminal = terminal
	e.pub.Publish(chunk)
}

func (e *emitter) text(s string) {
	e.emit(protocol.StageText, protocol.TextPayload{Text: s}, false)
}

func (e *emitter) transcript(s string) {
	e.emit(protocol.StageTranscript, protocol.TranscriptPayload{Text: s}, false)
}

func (e *emitter) routing(target, agent string, confidence float64) {
	e.emit(protocol.StageRouting, protocol.RoutingPayload{
		Target:     target,
		Agent:      agent,
		Confidence: confidence,
	}, false)
}

func (e *emitter) audio(seg *AudioSegment, encoded string) {
	e.emit(protocol.StageAudio, protocol.AudioPayload{
		Format:     seg.Format,
		SampleRate: seg.SampleRate,
		Data:       encoded,
	}, false)
}

// errorChunk surfaces a failure; terminal=false for a retryable stage
// error, terminal=true when the generation dies.
func (e *emitter) errorChunk(kind string, err error, terminal bool) {
	e.emit(protocol.StageError, protocol.ErrorPayload{
		Kind:    kind,
		Message: err.Error(),
	}, terminal)
}

// done closes the generation cleanly.
func (e *emitter) done() {
	e.emit(protocol.StageStatus, protocol.StatusPayload{Status: protocol.StatusDone}, true)
}

// cancelled closes a preempted or cancelled generation.
func (e *emitter) cancelled() {
	e.emit(protocol.StageStatus, protocol.StatusPayload{Status: protocol.StatusCancelled}, true)
}
