package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/bdpgmbv/rtve/pkg/bus"
	"github.com/bdpgmbv/rtve/pkg/types"
)

// feedbridge relays Binance book-ticker streams onto the inbound price
// topic, mapping each exchange symbol to a product id. It exists for
// soak testing against a live feed; production tick sources publish
// the framed records directly.
func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "broker URL")
	symbolsFlag := flag.String("symbols", "BTCUSDT:9001,ETHUSDT:9002,SOLUSDT:9003",
		"comma-separated symbol:productId pairs")
	priority := flag.Int("priority", 2, "source priority stamped on bridged ticks")
	flag.Parse()

	mapping, err := parseSymbols(*symbolsFlag)
	if err != nil {
		log.Fatalf("Invalid -symbols: %v", err)
	}
	if *priority < 1 {
		log.Fatal("-priority must be >= 1")
	}

	client, err := bus.NewClient(bus.DefaultConfig(*natsURL, "feedbridge"))
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer client.Close()

	stops := make([]chan struct{}, 0, len(mapping))
	for symbol, productID := range mapping {
		stopC, err := bridge(client, symbol, productID, *priority)
		if err != nil {
			log.Printf("Failed to start stream for %s: %v", symbol, err)
			continue
		}
		stops = append(stops, stopC)

		// Small delay to avoid rate limits
		time.Sleep(100 * time.Millisecond)
	}
	if len(stops) == 0 {
		log.Fatal("No streams started")
	}
	log.Printf("Bridging %d of %d symbols", len(stops), len(mapping))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down feed bridge...")
	for _, stopC := range stops {
		close(stopC)
	}
	time.Sleep(500 * time.Millisecond)
}

func bridge(client *bus.Client, symbol string, productID int64, priority int) (chan struct{}, error) {
	two := decimal.NewFromInt(2)

	handler := func(event *binance.WsBookTickerEvent) {
		bid, errBid := decimal.NewFromString(event.BestBidPrice)
		ask, errAsk := decimal.NewFromString(event.BestAskPrice)
		if errBid != nil || errAsk != nil {
			log.Printf("Unparseable book ticker for %s: bid %q ask %q",
				symbol, event.BestBidPrice, event.BestAskPrice)
			return
		}

		tick := types.PriceTick{
			ProductID:      productID,
			Price:          bid.Add(ask).Div(two),
			Currency:       quoteCurrency(symbol),
			AssetClass:     types.AssetClassFX,
			Source:         "binance",
			SourcePriority: priority,
			Timestamp:      time.Now().UTC(),
		}
		if err := client.PublishFramed(bus.SubjectPriceTicks, tick); err != nil {
			log.Printf("Failed to publish tick for %s: %v", symbol, err)
		}
	}
	errHandler := func(err error) {
		log.Printf("WebSocket error for %s: %v", symbol, err)
	}

	doneC, stopC, err := binance.WsBookTickerServe(symbol, handler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to start book ticker stream: %w", err)
	}

	go func() {
		<-doneC
		log.Printf("Stream for %s closed", symbol)
	}()

	log.Printf("Bridging %s as product %d", symbol, productID)
	return stopC, nil
}

func parseSymbols(raw string) (map[string]int64, error) {
	mapping := make(map[string]int64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("expected symbol:productId, got %q", part)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id in %q", part)
		}
		mapping[strings.ToUpper(fields[0])] = id
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("no symbols given")
	}
	return mapping, nil
}

// quoteCurrency maps an exchange symbol suffix to the ISO currency the
// price is quoted in. Stablecoin quotes are treated as USD.
func quoteCurrency(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, "USDT"),
		strings.HasSuffix(symbol, "USDC"),
		strings.HasSuffix(symbol, "BUSD"):
		return "USD"
	case strings.HasSuffix(symbol, "EUR"):
		return "EUR"
	case strings.HasSuffix(symbol, "GBP"):
		return "GBP"
	default:
		return "USD"
	}
}
