package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bdpgmbv/rtve/pkg/bus"
	"github.com/bdpgmbv/rtve/pkg/types"
)

var currencies = []string{"USD", "EUR", "GBP", "JPY"}

var fxSeeds = map[string]float64{
	"EURUSD": 1.08,
	"GBPUSD": 1.27,
	"JPYUSD": 0.0067,
}

type simulator struct {
	client    *bus.Client
	rng       *rand.Rand
	products  int
	accounts  int
	malformed float64
	pairs     []string
	prices    map[int64]float64
}

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "broker URL")
	products := flag.Int("products", 50, "number of products to simulate")
	accounts := flag.Int("accounts", 20, "number of accounts to seed")
	rate := flag.Int("rate", 10, "price ticks per second")
	duration := flag.Duration("duration", 0, "how long to run (0 = until interrupted)")
	malformed := flag.Float64("malformed", 0, "probability of publishing a malformed frame")
	seed := flag.Int64("seed", 0, "rng seed (0 = time-based)")
	flag.Parse()

	if *products < 1 || *accounts < 1 || *rate < 1 {
		log.Fatal("products, accounts and rate must all be >= 1")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	log.Printf("Starting feed simulator: %d products, %d accounts, %d ticks/s (seed %d)",
		*products, *accounts, *rate, *seed)

	client, err := bus.NewClient(bus.DefaultConfig(*natsURL, "feedsim"))
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer client.Close()

	pairs := make([]string, 0, len(fxSeeds))
	for pair := range fxSeeds {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	sim := &simulator{
		client:    client,
		rng:       rand.New(rand.NewSource(*seed)),
		products:  *products,
		accounts:  *accounts,
		malformed: *malformed,
		pairs:     pairs,
		prices:    make(map[int64]float64),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received")
		cancel()
	}()

	if err := sim.seed(); err != nil {
		log.Fatalf("Failed to seed reference data: %v", err)
	}

	sim.run(ctx, *rate)
	log.Println("Feed simulator stopped")
}

// seed publishes the FX pairs and an end-of-day snapshot per account so
// the engine has holders to value before the tick stream starts.
func (s *simulator) seed() error {
	now := time.Now().UTC()
	for _, pair := range s.pairs {
		r := types.FxRate{
			Pair:      pair,
			Rate:      decimal.NewFromFloat(fxSeeds[pair]),
			Timestamp: now,
		}
		if err := s.client.PublishFramed(bus.SubjectFxRates, r); err != nil {
			return err
		}
	}

	day := now.Format("2006-01-02")
	for a := 1; a <= s.accounts; a++ {
		holdings := 5 + s.rng.Intn(11)
		snap := types.PositionSnapshot{
			AccountID:    int64(a),
			BusinessDate: day,
		}
		seen := make(map[int64]bool)
		for len(snap.Positions) < holdings && len(seen) < s.products {
			productID := int64(1 + s.rng.Intn(s.products))
			if seen[productID] {
				continue
			}
			seen[productID] = true
			qty := int64(s.rng.Intn(2000)) - 500 // shorts included
			if qty == 0 {
				qty = 100
			}
			snap.Positions = append(snap.Positions, types.PositionEntry{
				ProductID: productID,
				Quantity:  decimal.NewFromInt(qty),
			})
		}
		if err := s.client.PublishFramed(bus.SubjectPositionEOD, snap); err != nil {
			return err
		}
	}

	log.Printf("Seeded %d FX pairs and %d account snapshots", len(s.pairs), s.accounts)
	return nil
}

func (s *simulator) run(ctx context.Context, rate int) {
	priceTicker := time.NewTicker(time.Second / time.Duration(rate))
	defer priceTicker.Stop()
	fxTicker := time.NewTicker(5 * time.Second)
	defer fxTicker.Stop()
	deltaTicker := time.NewTicker(2 * time.Second)
	defer deltaTicker.Stop()

	var published int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-priceTicker.C:
			if s.malformed > 0 && s.rng.Float64() < s.malformed {
				s.publishGarbage()
				continue
			}
			s.publishTick()
			published++
			if published%1000 == 0 {
				log.Printf("Published %d ticks", published)
			}
		case <-fxTicker.C:
			s.publishRate()
		case <-deltaTicker.C:
			s.publishDelta()
		}
	}
}

func (s *simulator) publishTick() {
	productID := int64(1 + s.rng.Intn(s.products))
	last, ok := s.prices[productID]
	if !ok {
		last = 20 + s.rng.Float64()*480
	}
	// Random walk within +-0.5% per tick
	last *= 1 + (s.rng.Float64()-0.5)/100
	s.prices[productID] = last

	tick := types.PriceTick{
		ProductID:      productID,
		Price:          decimal.NewFromFloat(last).Round(4),
		Currency:       currencies[productID%int64(len(currencies))],
		AssetClass:     classFor(productID),
		Source:         "feedsim",
		SourcePriority: 1 + s.rng.Intn(3),
		Timestamp:      time.Now().UTC(),
	}
	if err := s.client.PublishFramed(bus.SubjectPriceTicks, tick); err != nil {
		log.Printf("Failed to publish tick for product %d: %v", productID, err)
	}
}

func (s *simulator) publishRate() {
	pair := s.pairs[s.rng.Intn(len(s.pairs))]
	jittered := fxSeeds[pair] * (1 + (s.rng.Float64()-0.5)/200)

	r := types.FxRate{
		Pair:      pair,
		Rate:      decimal.NewFromFloat(jittered).Round(6),
		Timestamp: time.Now().UTC(),
	}
	if err := s.client.PublishFramed(bus.SubjectFxRates, r); err != nil {
		log.Printf("Failed to publish rate for %s: %v", pair, err)
	}
}

func (s *simulator) publishDelta() {
	delta := types.PositionDelta{
		AccountID: int64(1 + s.rng.Intn(s.accounts)),
		ProductID: int64(1 + s.rng.Intn(s.products)),
		Quantity:  decimal.NewFromInt(int64(s.rng.Intn(2000)) - 500),
	}
	if err := s.client.PublishFramed(bus.SubjectPositionUpdates, delta); err != nil {
		log.Printf("Failed to publish delta: %v", err)
	}
}

// publishGarbage sends bytes that fail frame decoding, exercising the
// dead-letter path.
func (s *simulator) publishGarbage() {
	junk := make([]byte, 16)
	s.rng.Read(junk)
	if err := s.client.PublishRaw(bus.SubjectPriceTicks, junk); err != nil {
		log.Printf("Failed to publish malformed frame: %v", err)
	}
}

func classFor(productID int64) types.AssetClass {
	switch productID % 5 {
	case 0:
		return types.AssetClassBond
	case 1:
		return types.AssetClassCash
	default:
		return types.AssetClassEquity
	}
}
