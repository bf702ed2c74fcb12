package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"
)

const inventoryPort = 8080

// createWarehouse registers a warehouse with a unique code and returns its
// ID and code.
func createWarehouse(t *testing.T, prefix string) (string, string) {
	t.Helper()
	code := uniqueCode(prefix)
	body := map[string]interface{}{
		"code": code,
		"name": "Integration test warehouse " + code,
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/warehouses", body)
	requireStatus(t, status, 201)
	return extractString(t, data, "data.id"), code
}

// receive books stock into a warehouse and returns the response envelope.
func receive(t *testing.T, variantID, warehouseCode string, qty int) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": warehouseCode,
		"qty":            qty,
		"reason":         "integration_test",
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/receive", body)
	requireStatus(t, status, 201)
	return data
}

// TestReceiveCreatesLevel verifies that receiving stock creates a level row
// and records a ledger entry.
func TestReceiveCreatesLevel(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, code := createWarehouse(t, "rcv")
	variantID := uniqueUUID()

	data := receive(t, variantID, code, 100)

	if got := extractFloat(t, data, "data.move.qty_on_hand_after"); got != 100 {
		t.Fatalf("expected qty_on_hand_after 100, got %v", got)
	}
	if got := extractString(t, data, "data.move.type"); got != "in" {
		t.Fatalf("expected move type in, got %q", got)
	}
}

// TestReserveCommitReleaseFlow walks a unit of stock through the full
// reservation lifecycle and checks the level row after every step.
func TestReserveCommitReleaseFlow(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, code := createWarehouse(t, "flow")
	variantID := uniqueUUID()
	receive(t, variantID, code, 100)

	// Reserve 10 for a cart.
	reserveBody := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": code,
		"qty":            10,
		"cart_id":        "cart-integration-1",
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/reserve", reserveBody)
	requireStatus(t, status, 201)
	if got := extractFloat(t, data, "data.move.qty_reserved_after"); got != 10 {
		t.Fatalf("expected qty_reserved_after 10, got %v", got)
	}

	// Commit 4 of the reservation (order confirmed).
	commitBody := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": code,
		"qty":            4,
		"order_id":       "order-integration-1",
	}
	status, data = httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/commit", commitBody)
	requireStatus(t, status, 201)
	if got := extractFloat(t, data, "data.move.qty_on_hand_after"); got != 96 {
		t.Fatalf("expected qty_on_hand_after 96 after commit, got %v", got)
	}
	if got := extractFloat(t, data, "data.move.qty_reserved_after"); got != 6 {
		t.Fatalf("expected qty_reserved_after 6 after commit, got %v", got)
	}

	// Release the remaining 6.
	releaseBody := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": code,
		"qty":            6,
	}
	status, data = httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/release", releaseBody)
	requireStatus(t, status, 201)
	if got := extractFloat(t, data, "data.move.qty_reserved_after"); got != 0 {
		t.Fatalf("expected qty_reserved_after 0 after release, got %v", got)
	}

	// The level endpoint agrees with the final ledger snapshot.
	status, data = httpGet(t, baseURL(inventoryPort)+"/api/v1/inventory/variants/"+variantID+"/levels")
	requireStatus(t, status, 200)
	levels, ok := extractField(data, "data").([]interface{})
	if !ok || len(levels) != 1 {
		t.Fatalf("expected exactly one level row, got %v", data)
	}
	level := levels[0].(map[string]interface{})
	if level["qty_on_hand"].(float64) != 96 || level["qty_available"].(float64) != 96 {
		t.Fatalf("expected 96 on hand and available, got %v", level)
	}
}

// TestReserveInsufficientStock verifies that over-reserving is rejected with
// a conflict and leaves the level untouched.
func TestReserveInsufficientStock(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, code := createWarehouse(t, "insuf")
	variantID := uniqueUUID()
	receive(t, variantID, code, 5)

	body := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": code,
		"qty":            6,
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/reserve", body)
	requireStatus(t, status, 409)
	if got := extractString(t, data, "error.code"); got != "INSUFFICIENT_STOCK" {
		t.Fatalf("expected error code INSUFFICIENT_STOCK, got %q", got)
	}

	// Stock is unchanged.
	status, data = httpGet(t, baseURL(inventoryPort)+"/api/v1/inventory/variants/"+variantID+"/levels")
	requireStatus(t, status, 200)
	level := extractField(data, "data").([]interface{})[0].(map[string]interface{})
	if level["qty_reserved"].(float64) != 0 {
		t.Fatalf("expected qty_reserved 0 after rejected reserve, got %v", level["qty_reserved"])
	}
}

// TestAdjustRejectsZeroQty verifies a zero delta is rejected with the
// quantity error code rather than a generic validation failure.
func TestAdjustRejectsZeroQty(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	body := map[string]interface{}{
		"variant_id": uniqueUUID(),
		"qty":        0,
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/adjust", body)
	if status != 400 {
		t.Fatalf("expected status 400 for zero qty, got %d; body: %v", status, data)
	}
	if got := extractString(t, data, "error.code"); got != "INVALID_QUANTITY" {
		t.Fatalf("expected error code INVALID_QUANTITY, got %q", got)
	}
}

// TestConcurrentReservesSingleUnit races several reserves against a one-unit
// row. The row lock serializes them, so exactly one wins and the rest see the
// committed reservation and fail the availability check.
func TestConcurrentReservesSingleUnit(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, code := createWarehouse(t, "race")
	variantID := uniqueUUID()
	receive(t, variantID, code, 1)

	const workers = 8
	type outcome struct {
		status  int
		errCode string
		err     error
	}
	results := make(chan outcome, workers)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			raw, _ := json.Marshal(map[string]interface{}{
				"variant_id":     variantID,
				"warehouse_code": code,
				"qty":            1,
			})
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(baseURL(inventoryPort)+"/api/v1/inventory/reserve",
				"application/json", bytes.NewReader(raw))
			if err != nil {
				results <- outcome{err: err}
				return
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(resp.Body)
			var envelope map[string]interface{}
			_ = json.Unmarshal(respBody, &envelope)
			errCode, _ := extractField(envelope, "error.code").(string)
			results <- outcome{status: resp.StatusCode, errCode: errCode}
		}()
	}
	start.Done()

	succeeded, rejected := 0, 0
	for i := 0; i < workers; i++ {
		res := <-results
		switch {
		case res.err != nil:
			t.Fatalf("concurrent reserve request failed: %v", res.err)
		case res.status == 201:
			succeeded++
		case res.status == 409 && res.errCode == "INSUFFICIENT_STOCK":
			rejected++
		default:
			t.Fatalf("unexpected response: status=%d error_code=%q", res.status, res.errCode)
		}
	}
	if succeeded != 1 || rejected != workers-1 {
		t.Fatalf("expected 1 success and %d INSUFFICIENT_STOCK rejections, got %d and %d",
			workers-1, succeeded, rejected)
	}

	// Only the winning reservation touched the level row.
	status, data := httpGet(t, baseURL(inventoryPort)+"/api/v1/inventory/variants/"+variantID+"/levels")
	requireStatus(t, status, 200)
	level := extractField(data, "data").([]interface{})[0].(map[string]interface{})
	if level["qty_on_hand"].(float64) != 1 || level["qty_reserved"].(float64) != 1 {
		t.Fatalf("expected on_hand 1 and reserved 1 after the race, got %v", level)
	}
}

// TestTransferConservesStock moves stock between two warehouses and verifies
// the totals are conserved.
func TestTransferConservesStock(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, fromCode := createWarehouse(t, "src")
	_, toCode := createWarehouse(t, "dst")
	variantID := uniqueUUID()
	receive(t, variantID, fromCode, 10)

	body := map[string]interface{}{
		"variant_id":          variantID,
		"from_warehouse_code": fromCode,
		"to_warehouse_code":   toCode,
		"qty":                 4,
		"reason":              "rebalance",
	}
	status, data := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/transfer", body)
	requireStatus(t, status, 201)
	if got := extractString(t, data, "data.move.type"); got != "transfer" {
		t.Fatalf("expected move type transfer, got %q", got)
	}

	status, data = httpGet(t, baseURL(inventoryPort)+"/api/v1/inventory/variants/"+variantID+"/levels")
	requireStatus(t, status, 200)
	levels := extractField(data, "data").([]interface{})
	total := 0.0
	for _, raw := range levels {
		total += raw.(map[string]interface{})["qty_on_hand"].(float64)
	}
	if total != 10 {
		t.Fatalf("expected total on-hand 10 across warehouses after transfer, got %v", total)
	}
}

// TestMovesLedgerIsAppendOnly verifies every operation leaves a ledger entry
// and replaying the deltas reproduces the final level.
func TestMovesLedgerIsAppendOnly(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	_, code := createWarehouse(t, "ledger")
	variantID := uniqueUUID()
	receive(t, variantID, code, 50)

	reserveBody := map[string]interface{}{
		"variant_id":     variantID,
		"warehouse_code": code,
		"qty":            5,
	}
	status, _ := httpPost(t, baseURL(inventoryPort)+"/api/v1/inventory/reserve", reserveBody)
	requireStatus(t, status, 201)

	url := fmt.Sprintf("%s/api/v1/inventory/moves?variant_id=%s&order=asc", baseURL(inventoryPort), variantID)
	status, data := httpGet(t, url)
	requireStatus(t, status, 200)

	if got := extractFloat(t, data, "total_count"); got != 2 {
		t.Fatalf("expected 2 ledger entries, got %v", got)
	}
	moves := extractField(data, "data").([]interface{})
	first := moves[0].(map[string]interface{})
	if first["type"].(string) != "in" {
		t.Fatalf("expected oldest entry to be the receive, got %v", first["type"])
	}
}

// TestLowStockThresholdFlow sets a threshold and verifies the variant shows
// up in the low-stock report once availability falls to it.
func TestLowStockThresholdFlow(t *testing.T) {
	skipIfNotRunning(t, inventoryPort)

	warehouseID, code := createWarehouse(t, "low")
	variantID := uniqueUUID()
	receive(t, variantID, code, 3)

	thresholdURL := fmt.Sprintf("%s/api/v1/inventory/variants/%s/warehouses/%s/threshold",
		baseURL(inventoryPort), variantID, warehouseID)
	status, data := httpPut(t, thresholdURL, map[string]interface{}{"threshold": 5})
	requireStatus(t, status, 200)
	if got := extractFloat(t, data, "data.low_stock_threshold"); got != 5 {
		t.Fatalf("expected threshold 5, got %v", got)
	}

	status, data = httpGet(t, baseURL(inventoryPort)+"/api/v1/inventory/low-stock?per_page=100")
	requireStatus(t, status, 200)
	found := false
	for _, raw := range extractField(data, "data").([]interface{}) {
		if raw.(map[string]interface{})["variant_id"] == variantID {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected variant %s in the low-stock report", variantID)
	}
}
