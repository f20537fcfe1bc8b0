package progress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrMalformed marks a line that could not be turned into an event.
var ErrMalformed = errors.New("malformed progress event")

const (
	typeCount   = "count"
	typeCopy    = "copy"
	typeSummary = "summary"
	typeStage   = "stage"
)

// wireEvent is the JSON line exchanged between the engine process and its
// supervisor.
type wireEvent struct {
	Type           string  `json:"type"`
	Phase          string  `json:"phase,omitempty"`
	Stage          string  `json:"stage,omitempty"`
	Files          int64   `json:"files,omitempty"`
	Bytes          int64   `json:"bytes,omitempty"`
	TotalFiles     int64   `json:"total_files,omitempty"`
	Copied         int64   `json:"copied,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

type Encoder struct {
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

func (e *Encoder) Encode(ev Event) error {
	var w wireEvent
	switch v := ev.(type) {
	case CountUpdate:
		w = wireEvent{Type: typeCount, Phase: v.Phase.String(), Files: v.Files, Bytes: v.Bytes}
	case CopyProgress:
		w = wireEvent{Type: typeCopy, TotalFiles: v.TotalFiles, Copied: v.Copied}
	case Summary:
		w = wireEvent{Type: typeSummary, Bytes: v.TotalBytes, ElapsedSeconds: v.Elapsed.Seconds()}
	case StageChange:
		w = wireEvent{Type: typeStage, Stage: v.Stage.String()}
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
	return e.enc.Encode(w)
}

type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{scanner: bufio.NewScanner(r)}
}

// Decode returns the next event, or io.EOF when the stream ends. A malformed
// line yields an error but leaves the decoder usable.
func (d *Decoder) Decode() (Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var w wireEvent
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, line, err)
		}
		ev, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func fromWire(w wireEvent) (Event, error) {
	switch w.Type {
	case typeCount:
		phase, err := parsePhase(w.Phase)
		if err != nil {
			return nil, err
		}
		return CountUpdate{Phase: phase, Files: w.Files, Bytes: w.Bytes}, nil
	case typeCopy:
		return CopyProgress{TotalFiles: w.TotalFiles, Copied: w.Copied}, nil
	case typeSummary:
		return Summary{
			TotalBytes: w.Bytes,
			Elapsed:    time.Duration(w.ElapsedSeconds * float64(time.Second)),
		}, nil
	case typeStage:
		stage, err := parseStage(w.Stage)
		if err != nil {
			return nil, err
		}
		return StageChange{Stage: stage}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", w.Type)
	}
}

func parsePhase(s string) (Phase, error) {
	for _, p := range []Phase{PhaseInitial, PhaseVerify} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown count phase %q", s)
}

func parseStage(s string) (Stage, error) {
	for _, st := range []Stage{StageCounting, StageCopying, StageVerifying, StageSyncing, StageFinished} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", s)
}

// Pump writes every event received on ch to enc until ch is closed. It is the
// engine process side of the pipe; encode failures are logged and the event
// is dropped.
func Pump(ch *Channel, enc *Encoder) {
	for ev := range ch.Events() {
		if err := enc.Encode(ev); err != nil {
			slog.Debug("Failed to write progress event", "error", err)
		}
	}
}

// Forward decodes events from r and sends them on ch until r is exhausted.
// It is the supervisor side of the pipe.
func Forward(r io.Reader, ch *Channel) error {
	dec := NewDecoder(r)
	for {
		ev, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, ErrMalformed) {
			slog.Warn("Skipping malformed progress line", "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read progress stream: %w", err)
		}
		ch.Send(ev)
	}
}
