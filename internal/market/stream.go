package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamConfig holds candle stream configuration.
type StreamConfig struct {
	URL           string        `json:"url"` // full websocket endpoint for the kline stream
	ReconnectWait time.Duration `json:"reconnect_wait"`
	ReadTimeout   time.Duration `json:"read_timeout"`
}

// Stream subscribes to a websocket kline feed and emits closed candles.
// Reconnects with a fixed wait on any read failure.
type Stream struct {
	cfg StreamConfig
	out chan Candle
	log zerolog.Logger
}

// klineEvent is the wire shape of one kline update.
type klineEvent struct {
	Kline struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// NewStream creates a candle stream.
func NewStream(cfg StreamConfig, log zerolog.Logger) *Stream {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Minute
	}
	return &Stream{
		cfg: cfg,
		out: make(chan Candle, 64),
		log: log,
	}
}

// Candles returns the channel of closed candles.
func (s *Stream) Candles() <-chan Candle { return s.out }

// Run reads the stream until ctx is cancelled. Blocks.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.out)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx); err != nil {
			s.log.Warn().Err(err).Str("url", s.cfg.URL).Msg("candle stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectWait):
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read on cancellation. The done channel releases the watcher
	// when this connection ends, so reconnects do not accumulate goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		var ev klineEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Debug().Err(err).Msg("skipping unparseable stream message")
			continue
		}
		if !ev.Kline.Closed {
			continue
		}

		candle, err := ev.toCandle()
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping malformed kline")
			continue
		}

		select {
		case s.out <- candle:
		case <-ctx.Done():
			return nil
		default:
			s.log.Warn().Msg("candle channel full, dropping bar")
		}
	}
}

func (ev klineEvent) toCandle() (Candle, error) {
	c := Candle{OpenTime: time.Unix(0, ev.Kline.OpenTime*int64(time.Millisecond)).UTC()}
	var err error
	if c.Open, err = strconv.ParseFloat(ev.Kline.Open, 64); err != nil {
		return Candle{}, err
	}
	if c.High, err = strconv.ParseFloat(ev.Kline.High, 64); err != nil {
		return Candle{}, err
	}
	if c.Low, err = strconv.ParseFloat(ev.Kline.Low, 64); err != nil {
		return Candle{}, err
	}
	if c.Close, err = strconv.ParseFloat(ev.Kline.Close, 64); err != nil {
		return Candle{}, err
	}
	if c.Volume, err = strconv.ParseFloat(ev.Kline.Volume, 64); err != nil {
		return Candle{}, err
	}
	return c, nil
}
