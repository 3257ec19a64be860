// Package scanner discovers newly listed USDT perpetual contracts by
// diffing the exchange instrument list against the set of symbols already
// seen. It never places orders; its output feeds the snipe loop.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/platform/bybit"
)

// InstrumentLister fetches the full linear instrument list.
type InstrumentLister interface {
	GetInstruments(ctx context.Context) ([]bybit.InstrumentInfo, error)
}

// Scanner tracks the known USDT perpetual universe and reports contracts
// appearing in the list for the first time.
type Scanner struct {
	client InstrumentLister
	maxAge time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

// NewScanner returns a scanner with an empty known set. Call Initialize
// before the first ScanForNew, otherwise every listed contract counts as new.
func NewScanner(client InstrumentLister, maxAge time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		client: client,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "scanner")),
		known:  make(map[string]struct{}),
	}
}

// Initialize seeds the known set with every USDT perpetual currently listed
// and returns how many symbols were seen.
func (s *Scanner) Initialize(ctx context.Context) (int, error) {
	perps, err := s.listPerpetuals(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanner: initialize: %w", err)
	}

	s.mu.Lock()
	for _, p := range perps {
		s.known[p.Symbol] = struct{}{}
	}
	n := len(s.known)
	s.mu.Unlock()

	s.logger.Info("instrument universe seeded", slog.Int("symbols", n))
	return n, nil
}

// ScanForNew re-lists the universe and returns descriptors for symbols not
// seen before that launched within the configured maximum age. Too-old and
// malformed newcomers are remembered so they are not re-examined, but not
// returned. A list failure yields an empty batch; scanning is never fatal.
func (s *Scanner) ScanForNew(ctx context.Context) []domain.Instrument {
	perps, err := s.listPerpetuals(ctx)
	if err != nil {
		s.logger.Warn("instrument list failed", slog.String("error", err.Error()))
		return nil
	}

	now := time.Now()
	var fresh []domain.Instrument

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perps {
		if _, seen := s.known[p.Symbol]; seen {
			continue
		}
		s.known[p.Symbol] = struct{}{}

		inst, err := p.ToInstrument()
		if err != nil {
			s.logger.Warn("skipping malformed instrument",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()))
			continue
		}

		age := inst.Age(now)
		if age >= s.maxAge {
			s.logger.Debug("skipping stale listing",
				slog.String("symbol", inst.Symbol),
				slog.Duration("age", age.Truncate(time.Second)))
			continue
		}

		s.logger.Info("new listing detected",
			slog.String("symbol", inst.Symbol),
			slog.Duration("age", age.Truncate(time.Second)))
		fresh = append(fresh, inst)
	}
	return fresh
}

// KnownCount returns the size of the known-symbol set.
func (s *Scanner) KnownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

func (s *Scanner) listPerpetuals(ctx context.Context) ([]bybit.InstrumentInfo, error) {
	infos, err := s.client.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]bybit.InstrumentInfo, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Symbol, "USDT") && info.ContractType == "LinearPerpetual" {
			out = append(out, info)
		}
	}
	return out, nil
}
