package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/stone-miner/internal/domain"
)

// playerID maps a load index onto a numeric identity like the ones the
// bot hands out.
func playerID(base, idx int) string {
	return fmt.Sprintf("%d", base+idx)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "stone-auto-taps", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Number of registered players to drive")
	idBase := flag.Int("id-base", 100000, "First player identity")
	batchesPerSecond := flag.Int("rate", 100, "Auto-tap batches per second")
	maxStones := flag.Int("max-stones", 20, "Upper bound of stones per batch")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers <= 0 || *batchesPerSecond <= 0 || *maxStones <= 0 {
		log.Fatal("players, rate and max-stones must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  ⛏  Stone Miner Auto-Tap Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d (from %d)\n", *totalPlayers, *idBase)
	fmt.Printf("  Batches/sec:      %d\n", *batchesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Keyed by player so one player's batches stay ordered on a partition.
	send := func(sub domain.TapSubmission) {
		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.PlayerID),
			Value: sarama.ByteEncoder(data),
		}
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ticker := time.NewTicker(time.Second / time.Duration(*batchesPerSecond))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var batchCount, stoneCount int64

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			// A tenth of the players produce most of the traffic.
			var idx int
			if rand.Intn(100) < 70 {
				idx = rand.Intn(max(*totalPlayers/10, 1))
			} else {
				idx = rand.Intn(*totalPlayers)
			}
			stones := int64(rand.Intn(*maxStones) + 1)

			send(domain.TapSubmission{
				PlayerID:     playerID(*idBase, idx),
				StonesEarned: stones,
				SubmittedAt:  time.Now().UTC(),
			})
			batchCount++
			stoneCount += stones

		case <-statsTicker.C:
			fmt.Printf("[%s] Batches: %d | Stones: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				batchCount,
				stoneCount,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
