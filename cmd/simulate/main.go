package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ptduy/livecount/internal/adapter/storage"
	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/core/service"
	"github.com/ptduy/livecount/pkg/logger"
)

const (
	entityID      = "limited-drop-tee"
	capacity      = 20
	totalRequests = 50
)

// simulate races many concurrent cashiers over one capacity-bounded counter
// and checks that exactly capacity adjustments land.
func main() {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	engine := service.NewEngine(store, logger.Nop(), nil, nil)
	if err := engine.Register(ctx, entityID, domain.StaticFields{
		DisplayName: "Limited Drop Tee",
		Capacity:    capacity,
		AddedAt:     time.Now(),
	}, 0); err != nil {
		log.Fatalf("failed to register entity: %v", err)
	}
	if err := engine.LoadAll(ctx); err != nil {
		log.Fatalf("failed to load entities: %v", err)
	}
	if err := engine.Attach(ctx); err != nil {
		log.Fatalf("failed to attach: %v", err)
	}
	defer engine.Detach()

	audit := service.NewAuditLogger(store, logger.Nop(), totalRequests*2)
	mutator := service.NewMutator(store, engine, audit, logger.Nop())

	var conflicts atomic.Int32
	var failures atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actorID := "cashier-" + uuid.NewString()[:8]
			_, err := mutator.AdjustCounter(ctx, entityID, +1, actorID, "sale")
			switch {
			case errors.Is(err, domain.ErrConflictExhausted):
				conflicts.Add(1)
			case err != nil:
				failures.Add(1)
				log.Printf("adjust failed: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := store.Read(ctx, "products/count/"+entityID)
	if err != nil {
		log.Fatalf("failed to read final counter: %v", err)
	}
	records, err := audit.QueryRecent(ctx, totalRequests)
	if err != nil {
		log.Fatalf("failed to read audit log: %v", err)
	}

	// A request either realized a +1 (one audit record) or clamped at
	// capacity (no write, no record), so sold == audit record count.
	sold := len(records)
	clamped := totalRequests - sold - int(conflicts.Load()) - int(failures.Load())

	fmt.Println("========== SIMULATION RESULTS ==========")
	fmt.Printf("Capacity:         %d\n", capacity)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Sold:             %d\n", sold)
	fmt.Printf("Clamped:          %d\n", clamped)
	fmt.Printf("Conflicts:        %d\n", conflicts.Load())
	fmt.Printf("Failures:         %d\n", failures.Load())
	fmt.Printf("Final Counter:    %s\n", final)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	if string(final) == fmt.Sprint(capacity) && sold == capacity {
		fmt.Printf("PASS: counter clamped at %d with exactly %d audited mutations\n", capacity, capacity)
	} else {
		fmt.Printf("FAIL: expected counter %d with %d audit records, got %s and %d\n",
			capacity, capacity, final, sold)
	}
}
