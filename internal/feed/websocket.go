package feed

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/pkg/exception"
)

const defaultHandshakeTimeout = 10 * time.Second

// WebSocketConfig configures a live tick stream.
type WebSocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout closes a silent session, zero disables it.
	ReadTimeout time.Duration
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
	Tokens  []int64  `json:"tokens"`
}

// wireTick is one quote on the stream. Either Symbol or Token identifies
// the instrument. Prices may be JSON numbers or strings.
type wireTick struct {
	Symbol    string    `json:"symbol"`
	Token     int64     `json:"token"`
	LastPrice wirePrice `json:"last_price"`
	Volume    int64     `json:"volume"`
	Timestamp int64     `json:"timestamp"`
	BidPrice  wirePrice `json:"bid_price"`
	BidQty    int64     `json:"bid_qty"`
	AskPrice  wirePrice `json:"ask_price"`
	AskQty    int64     `json:"ask_qty"`
}

// wirePrice is a decimal price. Only plain digits are accepted, so NaN,
// Inf and exponent forms fail the whole message.
type wirePrice decimal.Decimal

func (p *wirePrice) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = wirePrice(decimal.Zero)
		return nil
	}
	d, err := decimal.New(string(b))
	if err != nil {
		return errors.Wrapf(err, "decode price %s", b)
	}
	*p = wirePrice(d)
	return nil
}

func (p wirePrice) Decimal() decimal.Decimal {
	return decimal.Decimal(p)
}

func (p wirePrice) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

// WebSocketFeed reads JSON ticks from one websocket session. A message is
// either a single tick object or an array of them. The session ends when
// the server closes normally or ctx is done. There is no reconnect.
type WebSocketFeed struct {
	cfg     WebSocketConfig
	reg     *schema.Registry
	metrics *obs.Metrics
	clock   Clock

	conn *websocket.Conn
	sub  subscription

	published atomic.Int64
	skipped   atomic.Int64
}

func NewWebSocketFeed(cfg WebSocketConfig, reg *schema.Registry, m *obs.Metrics, clock Clock) (*WebSocketFeed, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty websocket url")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &WebSocketFeed{
		cfg:     cfg,
		reg:     reg,
		metrics: m,
		clock:   clockOrWall(clock),
	}, nil
}

func (f *WebSocketFeed) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial websocket").With("url", f.cfg.URL)
	}
	conn.SetReadLimit(1 << 20)
	f.conn = conn
	logs.Infof("connected to websocket source %s", f.cfg.URL)
	return nil
}

// Subscribe sends the subscribe request for symbols.
func (f *WebSocketFeed) Subscribe(symbols ...string) error {
	if f.conn == nil {
		return errors.Wrap(exception.ErrNotConnected, "websocket subscribe")
	}
	if len(symbols) == 0 {
		return errors.Wrap(exception.ErrNothingSubscribed, "websocket subscribe")
	}
	sub, err := resolve(f.reg, symbols)
	if err != nil {
		return err
	}

	req := subscribeRequest{Action: "subscribe", Symbols: symbols}
	for id := range sub {
		req.Tokens = append(req.Tokens, id)
	}
	payload, err := sonic.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal subscribe request")
	}
	if err := f.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write subscribe request").With("symbols", symbols)
	}
	f.sub = sub
	logs.Infof("subscribed websocket symbols %v", symbols)
	return nil
}

func (f *WebSocketFeed) Published() int64 {
	return f.published.Load()
}

func (f *WebSocketFeed) Skipped() int64 {
	return f.skipped.Load()
}

func (f *WebSocketFeed) Publish(ctx context.Context, ticks *ring.Ring[schema.Tick]) error {
	if f.conn == nil {
		return errors.Wrap(exception.ErrNotConnected, "websocket publish")
	}
	conn := f.conn
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var (
		batch []wireTick
		tick  schema.Tick
	)
	for {
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Infof("websocket source closed, published %d, skipped %d", f.published.Load(), f.skipped.Load())
				return nil
			}
			return errors.Wrap(err, "read websocket")
		}

		batch, err = decodeTicks(msg, batch[:0])
		if err != nil {
			f.skip("malformed", err)
			continue
		}
		for i := range batch {
			if err := f.convert(&batch[i], &tick); err != nil {
				f.skip("malformed", err)
				continue
			}
			if !f.sub.has(tick.InstrumentID) {
				continue
			}
			if err := publish(ticks, f.metrics, &tick); err != nil {
				return err
			}
			f.published.Add(1)
		}
	}
}

func (f *WebSocketFeed) skip(reason string, err error) {
	f.skipped.Add(1)
	f.metrics.IncFeedSkipped(reason)
	logs.Errorf("skip websocket tick (%s), err: %+v", reason, err)
}

func (f *WebSocketFeed) convert(w *wireTick, t *schema.Tick) error {
	t.Reset()
	id := w.Token
	if w.Symbol != "" {
		var ok bool
		if id, ok = f.reg.InstrumentID(w.Symbol); !ok {
			return errors.Wrapf(exception.ErrUnknownSymbol, "symbol: %s", w.Symbol)
		}
	} else if _, ok := f.reg.Symbol(id); !ok {
		return errors.Wrapf(exception.ErrUnknownSymbol, "token: %d", id)
	}
	if !w.LastPrice.Decimal().IsPositive() {
		return errors.Wrapf(exception.ErrMalformedTick, "last price: %s", w.LastPrice.Decimal())
	}

	t.InstrumentID = id
	t.LastPrice = w.LastPrice.Float64()
	t.Volume = w.Volume
	t.EventTime = w.Timestamp
	if t.EventTime == 0 {
		t.EventTime = f.clock.Now().UnixMilli()
	}
	t.BidPrice = w.BidPrice.Float64()
	t.BidQty = w.BidQty
	t.AskPrice = w.AskPrice.Float64()
	t.AskQty = w.AskQty
	return nil
}

func decodeTicks(msg []byte, into []wireTick) ([]wireTick, error) {
	if trimmed := bytes.TrimLeft(msg, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		var many []wireTick
		if err := sonic.Unmarshal(msg, &many); err != nil {
			return into, errors.Wrap(err, "decode tick array")
		}
		return append(into, many...), nil
	}
	var one wireTick
	if err := sonic.Unmarshal(msg, &one); err != nil {
		return into, errors.Wrap(err, "decode tick")
	}
	return append(into, one), nil
}
