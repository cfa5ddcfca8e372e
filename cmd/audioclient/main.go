package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time capture
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = 3200
const chunkIntervalMs = 100

type pipelineEvent struct {
	Type       string `json:"type"`
	PipelineID string `json:"pipelineId"`
	Text       string `json:"text"`
	Content    string `json:"content"`
	Message    string `json:"message"`
}

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:8080", "Orchestrator address")
	sessionID := flag.String("session", "audioclient-"+uuid.NewString()[:8], "Session ID")
	userID := flag.String("user", "user-demo", "User ID")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}

	// Create the pipeline
	body, _ := json.Marshal(map[string]string{"sessionId": *sessionID, "userId": *userID})
	resp, err := http.Post(fmt.Sprintf("http://%s/v1/pipelines", *serverAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	var created struct {
		PipelineID string `json:"pipelineId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatalf("Failed to decode create response: %v", err)
	}
	resp.Body.Close()
	if created.PipelineID == "" {
		log.Fatal("Server returned no pipeline id")
	}
	log.Printf("Pipeline created: pipelineId=%s sessionId=%s", created.PipelineID, *sessionID)

	// Attach the audio websocket
	wsURL := fmt.Sprintf("ws://%s/v1/pipelines/%s/audio", *serverAddr, created.PipelineID)
	ws, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to attach audio stream: %v", err)
	}
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	defer ws.Close()

	// Reader: print pipeline events, count synthesized audio.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var audioBytes int64
		for {
			msgType, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				audioBytes += int64(len(payload))
				continue
			}
			var ev pipelineEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "partialTranscript":
				log.Printf("  partial: %s", ev.Text)
			case "finalTranscript":
				log.Printf("transcript: %s", ev.Text)
			case "responseChunk":
				fmt.Print(ev.Content)
			case "complete":
				fmt.Println()
				log.Printf("Pipeline complete: %d bytes of audio received", audioBytes)
				return
			case "error":
				log.Printf("Pipeline error: %s", ev.Message)
				return
			case "interrupted":
				log.Printf("Pipeline interrupted")
				return
			}
		}
	}()

	// Stream audio in real-time sized chunks
	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		if err := ws.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	// Wait for the pipeline to finish responding
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for pipeline completion")
	}
}
