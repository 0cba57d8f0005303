// Package indicator supplies the numeric buy signal the decision engine
// consumes. The engine treats the source as opaque: any implementation
// returning a value in [0,100] works, and tests inject deterministic fakes.
package indicator

import (
	"fmt"

	"go.uber.org/zap"
)

// NeutralRSI is returned when not enough data exists to compute a real
// value. It sits above every sane entry threshold, so degraded data never
// triggers a buy.
const NeutralRSI = 50.0

// Source produces a relative-strength-index value for a symbol.
type Source interface {
	RSI(symbol string, period int, timeframe string) (float64, error)
}

// CandleProvider is the slice of the exchange client the RSI source needs.
type CandleProvider interface {
	GetKlineCloses(symbol, interval string, limit int) ([]float64, error)
}

// KlineSource computes RSI from exchange candles using Wilder's smoothing.
type KlineSource struct {
	candles CandleProvider
	logger  *zap.Logger
}

// NewKlineSource creates an RSI source backed by the exchange's kline
// endpoint.
func NewKlineSource(candles CandleProvider, logger *zap.Logger) *KlineSource {
	return &KlineSource{candles: candles, logger: logger}
}

var _ Source = (*KlineSource)(nil)

// RSI returns the latest RSI over the given period and timeframe. When the
// exchange returns too little history the neutral value is returned instead
// of an error so the caller fails closed.
func (s *KlineSource) RSI(symbol string, period int, timeframe string) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi period must be positive, got %d", period)
	}

	// Enough history for the smoothing to settle.
	limit := period * 3
	if limit < 100 {
		limit = 100
	}

	closes, err := s.candles.GetKlineCloses(symbol, timeframe, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}
	if len(closes) < period+1 {
		s.logger.Warn("Not enough candle data for RSI, degrading to neutral",
			zap.String("symbol", symbol), zap.Int("candles", len(closes)), zap.Int("period", period))
		return NeutralRSI, nil
	}

	value := rsi(closes, period)
	if value < 0 || value > 100 {
		s.logger.Warn("Computed RSI out of range, degrading to neutral",
			zap.String("symbol", symbol), zap.Float64("rsi", value))
		return NeutralRSI, nil
	}

	s.logger.Debug("RSI computed",
		zap.String("symbol", symbol), zap.Int("period", period), zap.Float64("rsi", value))
	return value, nil
}

// rsi computes the final RSI value over closes with Wilder's smoothing.
func rsi(closes []float64, period int) float64 {
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if i <= period {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == period {
				gain /= float64(period)
				loss /= float64(period)
			}
			continue
		}
		if d > 0 {
			gain = (gain*float64(period-1) + d) / float64(period)
			loss = (loss * float64(period-1)) / float64(period)
		} else {
			gain = (gain * float64(period-1)) / float64(period)
			loss = (loss*float64(period-1) - d) / float64(period)
		}
	}
	if loss == 0 {
		if gain == 0 {
			return NeutralRSI
		}
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}
