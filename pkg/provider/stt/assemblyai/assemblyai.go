// Package assemblyai provides an AssemblyAI-backed STT provider using the
// v3 realtime streaming WebSocket API. It implements the stt.Provider
// interface.
//
// The stream is duplex: an uplink goroutine serialises PCM chunks as binary
// frames, and a downlink goroutine decodes the service's JSON turn messages.
// Closing the PCM channel starts the clean shutdown handshake — the uplink
// sends a text "terminate" message and the downlink reads until the service
// acknowledges with a Termination message.
package assemblyai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/types"
)

const (
	defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

	// turnBuf is the buffer depth of the turns channel. Turn messages are
	// network-rate-limited, so this never fills in practice; it only decouples
	// the downlink read loop from momentary consumer stalls.
	turnBuf = 256
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint URL. Useful for tests and
// self-hosted gateways.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the AssemblyAI v3 realtime API.
type Provider struct {
	apiKey   string
	endpoint string
}

// New creates a new Provider. apiKey must be non-empty; it is passed as a
// query token and never logged.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{apiKey: apiKey, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, pcm <-chan []byte, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	s := &stream{
		conn:  conn,
		pcm:   pcm,
		turns: make(chan types.Turn, turnBuf),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	s.wg.Add(2)
	go s.uplink(ctx)
	go s.downlink(ctx)
	go func() {
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "stream ended")
		close(s.done)
	}()

	return s, nil
}

// buildURL constructs the v3 streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("token", p.apiKey)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	if cfg.EndOfTurnConfidenceThreshold > 0 {
		q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(cfg.EndOfTurnConfidenceThreshold, 'g', -1, 64))
	}
	if cfg.MinEndOfTurnSilenceWhenConfident > 0 {
		q.Set("min_end_of_turn_silence_when_confident", strconv.FormatInt(cfg.MinEndOfTurnSilenceWhenConfident.Milliseconds(), 10))
	}
	if cfg.MaxTurnSilence > 0 {
		q.Set("max_turn_silence", strconv.FormatInt(cfg.MaxTurnSilence.Milliseconds(), 10))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- wire messages ----

// message is the tagged union of all server → client JSON messages.
type message struct {
	Type string `json:"type"`

	// Begin
	ID        string `json:"id,omitempty"`
	ExpiresAt uint64 `json:"expires_at,omitempty"`

	// Turn
	TurnOrder          uint32     `json:"turn_order"`
	EndOfTurn          bool       `json:"end_of_turn"`
	EndOfTurnConf      float64    `json:"end_of_turn_confidence"`
	Transcript         string     `json:"transcript"`
	Words              []wireWord `json:"words,omitempty"`

	// Termination
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`

	// Error
	Error string `json:"error,omitempty"`
}

type wireWord struct {
	Text        string  `json:"text"`
	Start       int64   `json:"start"`
	End         int64   `json:"end"`
	Confidence  float64 `json:"confidence"`
	WordIsFinal bool    `json:"word_is_final"`
}

// terminateMsg is the final client → server text frame sent before close.
const terminateMsg = `{"type":"terminate"}`

// ---- stream ----

// stream is a live duplex transcription stream. It implements stt.StreamHandle.
type stream struct {
	conn  *websocket.Conn
	pcm   <-chan []byte
	turns chan types.Turn

	stop chan struct{} // closed by Close to abort both roles
	done chan struct{} // closed when both roles exited and conn released
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Turns implements stt.StreamHandle.
func (s *stream) Turns() <-chan types.Turn { return s.turns }

// Done implements stt.StreamHandle.
func (s *stream) Done() <-chan struct{} { return s.done }

// Err implements stt.StreamHandle.
func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close implements stt.StreamHandle. It aborts the connection without
// draining; in-flight turn messages are discarded.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.CloseNow()
	})
	return nil
}

// setErr records the first terminal error.
func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// uplink consumes PCM chunks and writes them as binary frames. When the PCM
// channel closes it sends the terminate message and exits; the downlink keeps
// reading until the service acknowledges. Write failures are treated as a
// stop request rather than a fault of their own — the downlink observes and
// reports the underlying connection error.
func (s *stream) uplink(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.pcm:
			if !ok {
				if err := s.conn.Write(ctx, websocket.MessageText, []byte(terminateMsg)); err != nil {
					slog.Debug("assemblyai: terminate send failed", "err", err)
				}
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// downlink reads JSON messages and dispatches by type tag until the service
// terminates, an error arrives, or the stream is aborted.
func (s *stream) downlink(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.turns)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil && !s.aborted() {
				s.setErr(fmt.Errorf("assemblyai: read: %w", err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("assemblyai: malformed server message, skipping", "err", err)
			continue
		}

		switch msg.Type {
		case "Begin":
			slog.Info("assemblyai: session started",
				"session_id", msg.ID,
				"expires_at", time.Unix(int64(msg.ExpiresAt), 0),
			)

		case "Turn":
			select {
			case s.turns <- convertTurn(msg):
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}

		case "Termination":
			slog.Info("assemblyai: session terminated",
				"audio_duration_s", msg.AudioDurationSeconds,
				"session_duration_s", msg.SessionDurationSeconds,
			)
			return

		case "Error":
			s.setErr(fmt.Errorf("assemblyai: server error: %s", msg.Error))
			return

		default:
			slog.Debug("assemblyai: unknown message type, skipping", "type", msg.Type)
		}
	}
}

// aborted reports whether Close has been called.
func (s *stream) aborted() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// convertTurn maps a wire Turn message to a types.Turn.
func convertTurn(msg message) types.Turn {
	words := make([]types.Word, 0, len(msg.Words))
	for _, w := range msg.Words {
		words = append(words, types.Word{
			Text:       w.Text,
			StartMs:    w.Start,
			EndMs:      w.End,
			Confidence: w.Confidence,
			IsFinal:    w.WordIsFinal,
		})
	}
	return types.Turn{
		TurnOrder:  msg.TurnOrder,
		Transcript: msg.Transcript,
		EndOfTurn:  msg.EndOfTurn,
		Confidence: msg.EndOfTurnConf,
		Words:      words,
	}
}
