package pipeline

import "fmt"

// Stage represents the lifecycle stage of a pipeline.
type Stage int

const (
	// StageIdle - Pipeline created, no audio received yet.
	StageIdle Stage = iota
	// StageAudioCapture - Waiting for the first audio chunk.
	StageAudioCapture
	// StageASRProcessing - Audio is streaming to speech recognition.
	StageASRProcessing
	// StageLLMProcessing - Final transcript sent, language model is streaming.
	StageLLMProcessing
	// StageRAGRetrieval - Reserved. Retrieval currently happens inside the
	// language-model service, so no transition enters this stage.
	StageRAGRetrieval
	// StageTTSSynthesis - Response text sent to speech synthesis.
	StageTTSSynthesis
	// StageAudioPlayback - Synthesized audio is streaming to the client.
	StageAudioPlayback
	// StageCompleted - Pipeline finished normally. Terminal.
	StageCompleted
	// StageError - Pipeline failed. Terminal.
	StageError
	// StageInterrupted - User barged in. Terminal, distinct from error so
	// analytics can separate "user cut me off" from "something broke".
	StageInterrupted
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageAudioCapture:
		return "AUDIO_CAPTURE"
	case StageASRProcessing:
		return "ASR_PROCESSING"
	case StageLLMProcessing:
		return "LLM_PROCESSING"
	case StageRAGRetrieval:
		return "RAG_RETRIEVAL"
	case StageTTSSynthesis:
		return "TTS_SYNTHESIS"
	case StageAudioPlayback:
		return "AUDIO_PLAYBACK"
	case StageCompleted:
		return "COMPLETED"
	case StageError:
		return "ERROR"
	case StageInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the stage is terminal (COMPLETED, ERROR or INTERRUPTED).
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError || s == StageInterrupted
}

// forwardEdges is the set of allowed forward transitions. ERROR and
// INTERRUPTED are reachable from any non-terminal stage and are handled
// separately by SetError and Interrupt.
var forwardEdges = map[Stage]Stage{
	StageIdle:          StageAudioCapture,
	StageAudioCapture:  StageASRProcessing,
	StageASRProcessing: StageLLMProcessing,
	StageLLMProcessing: StageTTSSynthesis,
	StageTTSSynthesis:  StageAudioPlayback,
	StageAudioPlayback: StageCompleted,
}

// CanTransitionTo reports whether target is a legal forward edge from s.
func (s Stage) CanTransitionTo(target Stage) bool {
	return forwardEdges[s] == target
}
