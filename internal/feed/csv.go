package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"isotope/internal/obs"
	"isotope/internal/ring"
	"isotope/internal/schema"
	"isotope/pkg/exception"
)

const csvColumns = 7 // timestamp,symbol,open,high,low,close,volume

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// CSVConfig configures a historical replay.
type CSVConfig struct {
	Path string
	// Speed is "1x", "10x", "0.5x" or "MAX". Empty means "1x".
	Speed string
	// Location interprets timestamps without zone. Defaults to time.Local.
	Location *time.Location
}

// ParseSpeed returns the replay factor, zero meaning no pacing.
func ParseSpeed(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	if strings.EqualFold(s, "MAX") {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(s), "x"), 64)
	if err != nil || !positive(f) {
		return 0, errors.Wrapf(exception.ErrInvalidReplaySpeed, "speed: %q", s)
	}
	return f, nil
}

// CSVReplay publishes recorded bars, using the close as the last price.
//
// Rows are paced by the gap between recorded timestamps divided by the
// speed factor. Malformed rows and unknown symbols are skipped, logged and
// counted.
type CSVReplay struct {
	cfg     CSVConfig
	speed   float64
	reg     *schema.Registry
	metrics *obs.Metrics
	clock   Clock

	file *os.File
	sub  subscription

	published atomic.Int64
	skipped   atomic.Int64
}

func NewCSVReplay(cfg CSVConfig, reg *schema.Registry, m *obs.Metrics, clock Clock) (*CSVReplay, error) {
	if cfg.Path == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "empty csv path")
	}
	speed, err := ParseSpeed(cfg.Speed)
	if err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &CSVReplay{
		cfg:     cfg,
		speed:   speed,
		reg:     reg,
		metrics: m,
		clock:   clockOrWall(clock),
	}, nil
}

func (r *CSVReplay) Connect(_ context.Context) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return errors.Wrap(err, "open csv source").With("path", r.cfg.Path)
	}
	r.file = f
	logs.Infof("connected to csv source %s, speed %q", r.cfg.Path, r.cfg.Speed)
	return nil
}

// Subscribe narrows the replay to symbols. The file may hold more.
func (r *CSVReplay) Subscribe(symbols ...string) error {
	sub, err := resolve(r.reg, symbols)
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

// Published returns the number of ticks written to the ring.
func (r *CSVReplay) Published() int64 {
	return r.published.Load()
}

// Skipped returns the number of rows dropped as malformed or unknown.
func (r *CSVReplay) Skipped() int64 {
	return r.skipped.Load()
}

// Publish replays the file once and closes it.
func (r *CSVReplay) Publish(ctx context.Context, ticks *ring.Ring[schema.Tick]) error {
	if r.file == nil {
		return errors.Wrap(exception.ErrNotConnected, "csv replay")
	}
	defer r.file.Close()

	reader := csv.NewReader(bufio.NewReader(r.file))
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true

	var (
		line int
		prev int64 = -1
		tick schema.Tick
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				r.skip(line, "malformed", err)
				continue
			}
			return errors.Wrap(err, "read csv source").With("line", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "timestamp") {
			continue
		}

		reason, err := r.parse(row, &tick)
		if err != nil {
			r.skip(line, reason, err)
			continue
		}
		if !r.sub.has(tick.InstrumentID) {
			continue
		}

		if r.speed > 0 && prev >= 0 && tick.EventTime > prev {
			gap := time.Duration(float64(tick.EventTime-prev) / r.speed * float64(time.Millisecond))
			if err := r.clock.Sleep(ctx, gap); err != nil {
				return err
			}
		}
		prev = tick.EventTime

		if err := publish(ticks, r.metrics, &tick); err != nil {
			return err
		}
		r.published.Add(1)
	}

	logs.Infof("csv replay finished, published %d, skipped %d", r.published.Load(), r.skipped.Load())
	return nil
}

func (r *CSVReplay) skip(line int, reason string, err error) {
	r.skipped.Add(1)
	r.metrics.IncFeedSkipped(reason)
	logs.Errorf("skip csv line %d (%s), err: %+v", line, reason, err)
}

func (r *CSVReplay) parse(row []string, t *schema.Tick) (string, error) {
	t.Reset()
	if len(row) < csvColumns {
		return "malformed", errors.Wrapf(exception.ErrMalformedTick, "%d columns", len(row))
	}

	ts, err := parseTimestamp(strings.TrimSpace(row[0]), r.cfg.Location)
	if err != nil {
		return "malformed", err
	}

	symbol := strings.TrimSpace(row[1])
	id, ok := r.reg.InstrumentID(symbol)
	if !ok {
		return "unknown_symbol", errors.Wrapf(exception.ErrUnknownSymbol, "symbol: %s", symbol)
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
	if err != nil || !positive(price) {
		return "malformed", errors.Wrapf(exception.ErrMalformedTick, "close: %q", row[5])
	}
	volume, err := parseVolume(strings.TrimSpace(row[6]))
	if err != nil {
		return "malformed", err
	}

	t.InstrumentID = id
	t.LastPrice = price
	t.Volume = volume
	t.EventTime = ts
	return "", nil
}

// parseTimestamp accepts epoch millis or a local ISO date time.
func parseTimestamp(s string, loc *time.Location) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, errors.Wrapf(exception.ErrMalformedTick, "timestamp: %q", s)
}

func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil && v >= 0 {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return 0, errors.Wrapf(exception.ErrMalformedTick, "volume: %q", s)
	}
	return int64(f), nil
}

// positive rejects NaN and Inf along with values <= 0.
func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}
