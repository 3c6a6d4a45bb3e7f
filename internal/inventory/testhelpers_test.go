package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/db"
	"github.com/angelmondragon/inventory-service/pkg/db/models"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/outbox"
)

type stock struct {
	productID int64
	total     int
	reserved  int
	sold      int
}

func newTestClient(t *testing.T, seed ...stock) *db.Client {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:       db.DriverSQLite,
		DSN:          "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	}, nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	conn := client.DB()
	if err := conn.AutoMigrate(&models.Product{}, &models.InventoryRecord{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	for _, s := range seed {
		if err := conn.Create(&models.Product{
			ID:        s.productID,
			THName:    "สินค้า",
			ENName:    "product",
			UnitPrice: decimal.RequireFromString("9.99"),
		}).Error; err != nil {
			t.Fatalf("seed product %d: %v", s.productID, err)
		}
		if err := conn.Create(&models.InventoryRecord{
			ProductID:        s.productID,
			TotalQuantity:    s.total,
			ReservedQuantity: s.reserved,
			SoldQuantity:     s.sold,
		}).Error; err != nil {
			t.Fatalf("seed inventory %d: %v", s.productID, err)
		}
	}
	return client
}

func newTestService(t *testing.T, runner txRunner) *Service {
	t.Helper()
	return newTestServiceWithTimeout(t, runner, 30*time.Second)
}

func newTestServiceWithTimeout(t *testing.T, runner txRunner, txTimeout time.Duration) *Service {
	t.Helper()
	ledger, err := NewLedger(runner, outbox.NewService(outbox.NewRepository(), nil))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Ledger:              ledger,
		Logger:              logger.Nop(),
		TxTimeout:           txTimeout,
		CompensationTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func loadRecord(t *testing.T, conn *gorm.DB, productID int64) models.InventoryRecord {
	t.Helper()
	var rec models.InventoryRecord
	if err := conn.First(&rec, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory %d: %v", productID, err)
	}
	return rec
}

func outboxRows(t *testing.T, conn *gorm.DB) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := conn.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	return rows
}

func assertReserved(t *testing.T, conn *gorm.DB, productID int64, want int) {
	t.Helper()
	if got := loadRecord(t, conn, productID).ReservedQuantity; got != want {
		t.Fatalf("product %d: expected reserved %d, got %d", productID, want, got)
	}
}

func assertPayload(t *testing.T, row models.OutboxEvent, want string) {
	t.Helper()
	var got, expected any
	if err := json.Unmarshal([]byte(row.Payload), &got); err != nil {
		t.Fatalf("decode payload %q: %v", row.Payload, err)
	}
	if err := json.Unmarshal([]byte(want), &expected); err != nil {
		t.Fatalf("decode expected payload: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("payload mismatch: got %s want %s", row.Payload, want)
	}
}

func eventTypes(rows []models.OutboxEvent) []enums.OutboxEventType {
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

// scriptedRunner delegates to a real client but can fail or stall chosen
// calls. commitLost runs the call for real, then reports a failed commit.
type scriptedRunner struct {
	inner *db.Client

	mu         sync.Mutex
	calls      int
	failOn     map[int]error
	stall      map[int]bool
	commitLost map[int]error
}

func (r *scriptedRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	failure := r.failOn[call]
	stall := r.stall[call]
	lost := r.commitLost[call]
	r.mu.Unlock()

	if failure != nil {
		return failure
	}
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := r.inner.WithTx(ctx, fn); err != nil {
		return err
	}
	if lost != nil {
		return fmt.Errorf("%w: %w", db.ErrCommit, lost)
	}
	return nil
}

var errConnectionRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
