package protocol

import "time"

// TranscriptCreated announces a persisted transcription to downstream
// consumers on the bus.
type TranscriptCreated struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	ProcessingTime float64   `json:"processing_time"`
	CreatedAt      time.Time `json:"created_at"`
}

const SubjectTranscriptCreated = "asr.transcript.created"
