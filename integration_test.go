package main

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"exchange-core/internal/config"
	"exchange-core/internal/domain"
	apperrors "exchange-core/internal/errors"
	"exchange-core/internal/repository"
	"exchange-core/internal/server"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *tcpostgres.PostgresContainer
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client
	db                *sql.DB
	today             string
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("exchange_core"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		suite.T().Fatalf("Failed to get connection string: %s", err)
	}

	suite.db, err = sql.Open("postgres", connStr)
	if err != nil {
		suite.T().Fatalf("Failed to open database: %s", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := repository.RunMigrations(suite.db, migrationsFS, "migrations", logger); err != nil {
		suite.T().Fatalf("Failed to run migrations: %s", err)
	}

	if err := suite.startApplicationServer(ctx); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}

	suite.client = &http.Client{Timeout: 30 * time.Second}
	suite.today = time.Now().Format("2006-01-02")
}

func (suite *IntegrationTestSuite) startApplicationServer(ctx context.Context) error {
	host, err := suite.postgresContainer.Host(ctx)
	if err != nil {
		return err
	}
	mappedPort, err := suite.postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}

	cfg := &config.Config{
		ServerPort: "0", // Let OS choose a free port
		Database: config.DatabaseConfig{
			Host:     host,
			Port:     mappedPort.Port(),
			User:     "postgres",
			Password: "password",
			Name:     "exchange_core",
			SSLMode:  "disable",
		},
		Exchange: config.ExchangeConfig{
			BuyCommissionRate:  "0",
			SellCommissionRate: "0",
		},
	}

	serverInstance, port, err := server.StartServer(cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}
	if suite.db != nil {
		suite.db.Close()
	}
	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

// ------------------------------------------------------------------
// HTTP and database helpers
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) doJSON(method, path string, body interface{}) (int, map[string]interface{}) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reqBody)
	require.NoError(suite.T(), err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := suite.client.Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(suite.T(), err)

	var parsed map[string]interface{}
	if len(raw) > 0 {
		require.NoError(suite.T(), json.Unmarshal(raw, &parsed), "unparseable response: %s", raw)
	}
	return resp.StatusCode, parsed
}

func data(resp map[string]interface{}) map[string]interface{} {
	d, _ := resp["data"].(map[string]interface{})
	return d
}

func errorCode(resp map[string]interface{}) string {
	e, _ := resp["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func (suite *IntegrationTestSuite) assertDecimalEqual(expected string, actual interface{}, msgAndArgs ...interface{}) {
	actualStr, ok := actual.(string)
	require.True(suite.T(), ok, "expected decimal string, got %T (%v)", actual, actual)

	expectedDec := decimal.RequireFromString(expected)
	actualDec, err := decimal.NewFromString(actualStr)
	require.NoError(suite.T(), err)

	assert.True(suite.T(), expectedDec.Equal(actualDec),
		"decimal values not equal: expected %s, got %s", expected, actualStr)
}

// fundAccount creates an active account directly in the database. Client
// funding (cash received at the counter) is upstream of this core, so
// tests seed it the way the surrounding system would.
func (suite *IntegrationTestSuite) fundAccount(clientID, currency, balance string) {
	_, err := suite.db.Exec(`
		INSERT INTO accounts (id, client_id, currency, balance, status)
		VALUES ($1, $2, $3, $4::numeric, 'active')`,
		uuid.New(), clientID, currency, balance)
	require.NoError(suite.T(), err)
}

func (suite *IntegrationTestSuite) topUpAccount(clientID, currency, delta string) {
	res, err := suite.db.Exec(`
		UPDATE accounts SET balance = balance + $1::numeric
		WHERE client_id = $2 AND currency = $3 AND status = 'active'`,
		delta, clientID, currency)
	require.NoError(suite.T(), err)
	n, err := res.RowsAffected()
	require.NoError(suite.T(), err)
	require.EqualValues(suite.T(), 1, n)
}

func (suite *IntegrationTestSuite) balanceOf(clientID, currency string) decimal.Decimal {
	var s string
	err := suite.db.QueryRow(`
		SELECT balance::text FROM accounts
		WHERE client_id = $1 AND currency = $2 AND status = 'active'`,
		clientID, currency).Scan(&s)
	require.NoError(suite.T(), err)
	return decimal.RequireFromString(s)
}

func (suite *IntegrationTestSuite) publishRate(base, quote, rate string) {
	status, resp := suite.doJSON("POST", "/rates", map[string]interface{}{
		"base": base, "quote": quote, "rate": rate, "source": "test-scheduler",
	})
	require.Equal(suite.T(), http.StatusCreated, status, "publish rate failed: %v", resp)
}

func (suite *IntegrationTestSuite) deposit(currency, amount string) {
	status, resp := suite.doJSON("POST", "/treasury/deposits", map[string]interface{}{
		"date": suite.today, "currency": currency, "amount": amount, "source": "treasury",
	})
	require.Equal(suite.T(), http.StatusCreated, status, "deposit failed: %v", resp)
}

func (suite *IntegrationTestSuite) configureLimit(currency, limit string) {
	status, resp := suite.doJSON("PUT", "/treasury/limits", map[string]interface{}{
		"date": suite.today, "currency": currency, "limit": limit,
	})
	require.Equal(suite.T(), http.StatusCreated, status, "configure limit failed: %v", resp)
}

func (suite *IntegrationTestSuite) sell(clientID, source, dest, amount string) (int, map[string]interface{}) {
	return suite.doJSON("POST", "/exchange/sell", map[string]interface{}{
		"client_id": clientID, "source_currency": source, "dest_currency": dest, "amount": amount,
	})
}

func (suite *IntegrationTestSuite) buy(clientID, source, dest, amount string) (int, map[string]interface{}) {
	return suite.doJSON("POST", "/exchange/buy", map[string]interface{}{
		"client_id": clientID, "source_currency": source, "dest_currency": dest, "amount": amount,
	})
}

func (suite *IntegrationTestSuite) getPool(currency string) map[string]interface{} {
	status, resp := suite.doJSON("GET", "/treasury/pools/"+suite.today+"/"+currency, nil)
	require.Equal(suite.T(), http.StatusOK, status, "get pool failed: %v", resp)
	return data(resp)
}

func (suite *IntegrationTestSuite) getLimit(currency string) map[string]interface{} {
	status, resp := suite.doJSON("GET", "/treasury/limits/"+suite.today+"/"+currency, nil)
	require.Equal(suite.T(), http.StatusOK, status, "get limit failed: %v", resp)
	return data(resp)
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods). They are executed in the
// order invoked by TestFlow, which keeps the scenario state
// deterministic without relying on test name ordering.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, resp := suite.doJSON("GET", "/health", nil)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "healthy", resp["status"])
}

func (suite *IntegrationTestSuite) stepPublishAndReadRates() {
	suite.publishRate("USD", "VES", "36.50")
	suite.publishRate("EUR", "VES", "40")
	suite.publishRate("CHF", "VES", "41")
	suite.publishRate("AUD", "VES", "24")
	suite.publishRate("CAD", "VES", "27")

	status, resp := suite.doJSON("GET", "/rates/USD-VES", nil)
	require.Equal(suite.T(), http.StatusOK, status)
	suite.assertDecimalEqual("36.50", data(resp)["rate"])
	assert.Equal(suite.T(), true, data(resp)["is_active"])

	// Re-publishing replaces the active snapshot atomically.
	suite.publishRate("USD", "VES", "36.75")
	status, resp = suite.doJSON("GET", "/rates/USD-VES", nil)
	require.Equal(suite.T(), http.StatusOK, status)
	suite.assertDecimalEqual("36.75", data(resp)["rate"])

	var active int
	err := suite.db.QueryRow(
		`SELECT count(*) FROM rate_snapshots WHERE pair = 'USD/VES' AND is_active`).Scan(&active)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, active)

	// Back to the scenario rate.
	suite.publishRate("USD", "VES", "36.50")
}

func (suite *IntegrationTestSuite) stepRateUnavailable() {
	status, resp := suite.sell("maria", "PLN", "VES", "10")
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "rate_unavailable", errorCode(resp))
}

func (suite *IntegrationTestSuite) stepSellUnderLimit() {
	suite.configureLimit("USD", "200")
	suite.deposit("USD", "500")
	suite.fundAccount("maria", "USD", "1000")

	status, resp := suite.sell("maria", "USD", "VES", "70")
	require.Equal(suite.T(), http.StatusCreated, status, "sell failed: %v", resp)

	result := data(resp)
	assert.Equal(suite.T(), "sell", result["operation"])
	assert.Equal(suite.T(), "completed", result["status"])
	assert.NotEmpty(suite.T(), result["receipt_number"])
	suite.assertDecimalEqual("70", result["source_amount"])
	suite.assertDecimalEqual("2555", result["dest_amount"])
	suite.assertDecimalEqual("36.50", result["rate_applied"])
	suite.assertDecimalEqual("0", result["commission"])

	assert.True(suite.T(), decimal.RequireFromString("930").Equal(suite.balanceOf("maria", "USD")))
	assert.True(suite.T(), decimal.RequireFromString("2555").Equal(suite.balanceOf("maria", "VES")))

	pool := suite.getPool("USD")
	suite.assertDecimalEqual("500", pool["received"])
	suite.assertDecimalEqual("70", pool["sold"])
	suite.assertDecimalEqual("430", pool["available"])

	limit := suite.getLimit("USD")
	suite.assertDecimalEqual("70", limit["sold"])
	suite.assertDecimalEqual("130", limit["available"])
	suite.assertDecimalEqual("35", limit["utilization_pct"])
	assert.Equal(suite.T(), false, limit["alert_80"])
}

func (suite *IntegrationTestSuite) stepSellExceedingLimit() {
	// 70 already sold; 150 more would make 220 > 200.
	status, resp := suite.sell("maria", "USD", "VES", "150")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "limit_exceeded", errorCode(resp))

	assert.True(suite.T(), decimal.RequireFromString("930").Equal(suite.balanceOf("maria", "USD")))
	pool := suite.getPool("USD")
	suite.assertDecimalEqual("430", pool["available"])
	limit := suite.getLimit("USD")
	suite.assertDecimalEqual("70", limit["sold"])
}

func (suite *IntegrationTestSuite) stepBuySellRoundTrip() {
	suite.topUpAccount("maria", "VES", "5000") // 2555 + 5000 = 7555

	status, resp := suite.buy("maria", "VES", "USD", "100")
	require.Equal(suite.T(), http.StatusCreated, status, "buy failed: %v", resp)

	result := data(resp)
	assert.Equal(suite.T(), "buy", result["operation"])
	suite.assertDecimalEqual("3650", result["source_amount"])
	suite.assertDecimalEqual("100", result["dest_amount"])

	assert.True(suite.T(), decimal.RequireFromString("1030").Equal(suite.balanceOf("maria", "USD")))
	assert.True(suite.T(), decimal.RequireFromString("3905").Equal(suite.balanceOf("maria", "VES")))

	// Selling the same 100 USD back at the same rate restores both
	// balances; net effect is zero at 0% commission.
	status, resp = suite.sell("maria", "USD", "VES", "100")
	require.Equal(suite.T(), http.StatusCreated, status, "sell back failed: %v", resp)

	assert.True(suite.T(), decimal.RequireFromString("930").Equal(suite.balanceOf("maria", "USD")))
	assert.True(suite.T(), decimal.RequireFromString("7555").Equal(suite.balanceOf("maria", "VES")))

	limit := suite.getLimit("USD")
	suite.assertDecimalEqual("170", limit["sold"])
	assert.Equal(suite.T(), true, limit["alert_80"]) // 85% crossed the latch
	assert.Equal(suite.T(), false, limit["alert_95"])
}

func (suite *IntegrationTestSuite) stepSameDayDoubleDeposit() {
	suite.configureLimit("EUR", "5000")
	suite.deposit("EUR", "5000")
	suite.fundAccount("carlos", "EUR", "1000")

	status, resp := suite.sell("carlos", "EUR", "VES", "500")
	require.Equal(suite.T(), http.StatusCreated, status, "sell failed: %v", resp)

	pool := suite.getPool("EUR")
	suite.assertDecimalEqual("5000", pool["received"])
	suite.assertDecimalEqual("500", pool["sold"])
	suite.assertDecimalEqual("4500", pool["available"])

	// A second same-day deposit increments the existing pool; it never
	// creates a sibling row that would double-count availability.
	suite.deposit("EUR", "3000")

	pool = suite.getPool("EUR")
	suite.assertDecimalEqual("8000", pool["received"])
	suite.assertDecimalEqual("500", pool["sold"])
	suite.assertDecimalEqual("7500", pool["available"])

	var rows int
	err := suite.db.QueryRow(`
		SELECT count(*) FROM remittance_pools
		WHERE pool_date = $1::date AND currency = 'EUR'`, suite.today).Scan(&rows)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, rows)
}

func (suite *IntegrationTestSuite) stepInsufficientFundsRollsBack() {
	// carlos has 500 EUR left. Limit headroom (500+600 <= 5000) and
	// pool headroom (7500) both admit, so the debit is what fails --
	// and the admission's limit increment must roll back with it.
	status, resp := suite.sell("carlos", "EUR", "VES", "600")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_funds", errorCode(resp))

	assert.True(suite.T(), decimal.RequireFromString("500").Equal(suite.balanceOf("carlos", "EUR")))

	limit := suite.getLimit("EUR")
	suite.assertDecimalEqual("500", limit["sold"])
	pool := suite.getPool("EUR")
	suite.assertDecimalEqual("7500", pool["available"])
	suite.assertDecimalEqual("500", pool["sold"])
}

func (suite *IntegrationTestSuite) stepNoLimitConfiguredDenies() {
	suite.publishRate("GBP", "VES", "46")
	suite.deposit("GBP", "100")

	status, resp := suite.sell("carlos", "GBP", "VES", "10")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "no_limit_configured", errorCode(resp))
}

func (suite *IntegrationTestSuite) stepInsufficientPoolDenies() {
	suite.configureLimit("CAD", "10000")
	suite.deposit("CAD", "100")
	suite.fundAccount("carlos", "CAD", "1000")

	// The configured limit outpaces physical availability; the pool
	// cross-check must deny regardless.
	status, resp := suite.sell("carlos", "CAD", "VES", "500")
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_pool", errorCode(resp))

	assert.True(suite.T(), decimal.RequireFromString("1000").Equal(suite.balanceOf("carlos", "CAD")))
	limit := suite.getLimit("CAD")
	suite.assertDecimalEqual("0", limit["sold"])
}

func (suite *IntegrationTestSuite) stepConcurrentSells() {
	suite.configureLimit("CHF", "1000")
	suite.deposit("CHF", "1000")
	suite.fundAccount("ana", "CHF", "1000")

	var mu sync.Mutex
	receipts := make(map[string]bool)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			status, resp := suite.sell("ana", "CHF", "VES", "70")
			if status != http.StatusCreated {
				return fmt.Errorf("concurrent sell failed with %d: %v", status, resp)
			}
			receipt, _ := data(resp)["receipt_number"].(string)
			mu.Lock()
			receipts[receipt] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(suite.T(), g.Wait())

	// N concurrent completions, N distinct receipts.
	assert.Len(suite.T(), receipts, 10)

	assert.True(suite.T(), decimal.RequireFromString("300").Equal(suite.balanceOf("ana", "CHF")))
	pool := suite.getPool("CHF")
	suite.assertDecimalEqual("700", pool["sold"])
	suite.assertDecimalEqual("300", pool["available"])
	limit := suite.getLimit("CHF")
	suite.assertDecimalEqual("700", limit["sold"])
}

func (suite *IntegrationTestSuite) stepConcurrentOverdraftPrevented() {
	suite.fundAccount("luis", "CHF", "100")

	results := make(chan int, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			status, _ := suite.sell("luis", "CHF", "VES", "80")
			results <- status
			return nil
		})
	}
	require.NoError(suite.T(), g.Wait())
	close(results)

	created, denied := 0, 0
	for status := range results {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity:
			denied++
		}
	}

	// Two sells of 80 against a balance of 100: exactly one wins.
	assert.Equal(suite.T(), 1, created)
	assert.Equal(suite.T(), 1, denied)
	assert.True(suite.T(), decimal.RequireFromString("20").Equal(suite.balanceOf("luis", "CHF")))
}

func (suite *IntegrationTestSuite) stepConcurrentSellsDrainPool() {
	// CAD pool holds 100 with ample limit headroom. Two concurrent
	// sells of 80 race on the pool itself: the loser must get a clean
	// insufficient_pool denial, never a pool-integrity failure.
	results := make(chan struct {
		status int
		code   string
	}, 2)

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			status, resp := suite.sell("carlos", "CAD", "VES", "80")
			results <- struct {
				status int
				code   string
			}{status, errorCode(resp)}
			return nil
		})
	}
	require.NoError(suite.T(), g.Wait())
	close(results)

	created, denied := 0, 0
	for r := range results {
		switch r.status {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity:
			denied++
			assert.Equal(suite.T(), "insufficient_pool", r.code)
		default:
			suite.T().Errorf("unexpected status %d (code %q) for racing pool sell", r.status, r.code)
		}
	}
	assert.Equal(suite.T(), 1, created)
	assert.Equal(suite.T(), 1, denied)

	assert.True(suite.T(), decimal.RequireFromString("920").Equal(suite.balanceOf("carlos", "CAD")))
	pool := suite.getPool("CAD")
	suite.assertDecimalEqual("80", pool["sold"])
	suite.assertDecimalEqual("20", pool["available"])
}

func (suite *IntegrationTestSuite) stepReversal() {
	suite.configureLimit("AUD", "500")
	suite.deposit("AUD", "200")
	suite.fundAccount("rosa", "AUD", "100")

	status, resp := suite.sell("rosa", "AUD", "VES", "40")
	require.Equal(suite.T(), http.StatusCreated, status, "sell failed: %v", resp)
	receipt, _ := data(resp)["receipt_number"].(string)
	require.NotEmpty(suite.T(), receipt)

	assert.True(suite.T(), decimal.RequireFromString("60").Equal(suite.balanceOf("rosa", "AUD")))
	assert.True(suite.T(), decimal.RequireFromString("960").Equal(suite.balanceOf("rosa", "VES")))

	status, resp = suite.doJSON("POST", "/transactions/"+receipt+"/reverse",
		map[string]interface{}{"actor": "supervisor"})
	require.Equal(suite.T(), http.StatusCreated, status, "reverse failed: %v", resp)

	assert.True(suite.T(), decimal.RequireFromString("100").Equal(suite.balanceOf("rosa", "AUD")))
	assert.True(suite.T(), suite.balanceOf("rosa", "VES").IsZero())

	pool := suite.getPool("AUD")
	suite.assertDecimalEqual("0", pool["sold"])
	suite.assertDecimalEqual("200", pool["available"])
	limit := suite.getLimit("AUD")
	suite.assertDecimalEqual("0", limit["sold"])

	// The original is marked reversed and cannot be reversed twice.
	status, resp = suite.doJSON("GET", "/transactions/"+receipt, nil)
	require.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "reversed", data(resp)["status"])

	status, resp = suite.doJSON("POST", "/transactions/"+receipt+"/reverse",
		map[string]interface{}{"actor": "supervisor"})
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "not_reversible", errorCode(resp))
}

func (suite *IntegrationTestSuite) stepConcurrentReversalAppliesOnce() {
	suite.fundAccount("pedro", "AUD", "100")

	status, resp := suite.sell("pedro", "AUD", "VES", "50")
	require.Equal(suite.T(), http.StatusCreated, status, "sell failed: %v", resp)
	receipt, _ := data(resp)["receipt_number"].(string)
	require.NotEmpty(suite.T(), receipt)

	results := make(chan int, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			status, _ := suite.doJSON("POST", "/transactions/"+receipt+"/reverse",
				map[string]interface{}{"actor": "supervisor"})
			results <- status
			return nil
		})
	}
	require.NoError(suite.T(), g.Wait())
	close(results)

	created, denied := 0, 0
	for status := range results {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity:
			denied++
		}
	}

	// Two racing reversals of one receipt: the compensation must apply
	// exactly once, never twice.
	assert.Equal(suite.T(), 1, created)
	assert.Equal(suite.T(), 1, denied)

	assert.True(suite.T(), decimal.RequireFromString("100").Equal(suite.balanceOf("pedro", "AUD")))
	assert.True(suite.T(), suite.balanceOf("pedro", "VES").IsZero())

	pool := suite.getPool("AUD")
	suite.assertDecimalEqual("0", pool["sold"])
	suite.assertDecimalEqual("200", pool["available"])
	limit := suite.getLimit("AUD")
	suite.assertDecimalEqual("0", limit["sold"])
}

func (suite *IntegrationTestSuite) stepPoolMovementsAuditTrail() {
	status, resp := suite.doJSON("GET", "/treasury/pools/"+suite.today+"/EUR/movements", nil)
	require.Equal(suite.T(), http.StatusOK, status)

	movements, ok := resp["data"].([]interface{})
	require.True(suite.T(), ok, "expected movement list: %v", resp)
	require.Len(suite.T(), movements, 3)

	first := movements[0].(map[string]interface{})
	second := movements[1].(map[string]interface{})
	third := movements[2].(map[string]interface{})

	assert.Equal(suite.T(), "deposit", first["type"])
	suite.assertDecimalEqual("5000", first["amount"])
	suite.assertDecimalEqual("0", first["balance_before"])
	suite.assertDecimalEqual("5000", first["balance_after"])

	assert.Equal(suite.T(), "sale", second["type"])
	suite.assertDecimalEqual("500", second["amount"])
	suite.assertDecimalEqual("5000", second["balance_before"])
	suite.assertDecimalEqual("4500", second["balance_after"])
	assert.NotEmpty(suite.T(), second["transaction_id"])

	assert.Equal(suite.T(), "deposit", third["type"])
	suite.assertDecimalEqual("3000", third["amount"])
	suite.assertDecimalEqual("4500", third["balance_before"])
	suite.assertDecimalEqual("7500", third["balance_after"])
}

func (suite *IntegrationTestSuite) stepAccountStatusManagement() {
	status, resp := suite.doJSON("GET", "/clients/maria/accounts", nil)
	require.Equal(suite.T(), http.StatusOK, status)
	accounts, ok := resp["data"].([]interface{})
	require.True(suite.T(), ok)
	require.NotEmpty(suite.T(), accounts)

	var usdAccountID string
	for _, a := range accounts {
		account := a.(map[string]interface{})
		if account["currency"] == "USD" {
			usdAccountID, _ = account["account_id"].(string)
		}
	}
	require.NotEmpty(suite.T(), usdAccountID)

	status, _ = suite.doJSON("PUT", "/accounts/"+usdAccountID+"/status",
		map[string]interface{}{"status": "blocked"})
	require.Equal(suite.T(), http.StatusOK, status)

	// A blocked account is no longer an active account for exchange
	// purposes.
	status, resp = suite.sell("maria", "USD", "VES", "10")
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "account_not_found", errorCode(resp))

	status, _ = suite.doJSON("PUT", "/accounts/"+usdAccountID+"/status",
		map[string]interface{}{"status": "active"})
	require.Equal(suite.T(), http.StatusOK, status)
}

func (suite *IntegrationTestSuite) stepDailyReport() {
	status, resp := suite.doJSON("GET", "/reports/daily/"+suite.today, nil)
	require.Equal(suite.T(), http.StatusOK, status)

	rows, ok := resp["data"].([]interface{})
	require.True(suite.T(), ok)
	require.NotEmpty(suite.T(), rows)

	byCurrency := make(map[string]map[string]interface{})
	for _, r := range rows {
		row := r.(map[string]interface{})
		currency, _ := row["currency"].(string)
		byCurrency[currency] = row
	}

	eur, ok := byCurrency["EUR"]
	require.True(suite.T(), ok, "EUR missing from daily report")
	suite.assertDecimalEqual("500", eur["sold_amount"])
	suite.assertDecimalEqual("8000", eur["pool_received"])
	suite.assertDecimalEqual("7500", eur["pool_available"])
	suite.assertDecimalEqual("5000", eur["limit"])

	chf, ok := byCurrency["CHF"]
	require.True(suite.T(), ok, "CHF missing from daily report")
	suite.assertDecimalEqual("780", chf["sold_amount"])
}

func (suite *IntegrationTestSuite) stepReceiptCollisionKeepsTransactionUsable() {
	// A receipt collision at insert time must not poison the enclosing
	// database transaction: the caller retries with a fresh number and
	// the tx commits.
	store := repository.NewStore(suite.db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var accountID uuid.UUID
	err := suite.db.QueryRow(`
		SELECT id FROM accounts
		WHERE client_id = 'maria' AND currency = 'USD' AND status = 'active'`).Scan(&accountID)
	require.NoError(suite.T(), err)

	newTxn := func(receipt string) *domain.Transaction {
		return &domain.Transaction{
			ID:             uuid.New(),
			ClientID:       "maria",
			Operation:      domain.OperationBuy,
			SourceCurrency: "VES",
			DestCurrency:   "USD",
			SourceAmount:   decimal.NewFromInt(1),
			DestAmount:     decimal.NewFromInt(1),
			RateApplied:    decimal.NewFromInt(1),
			Commission:     decimal.Zero,
			ReceiptNumber:  receipt,
			Status:         domain.TransactionCompleted,
			SourceAccount:  accountID,
			DestAccount:    accountID,
		}
	}

	err = store.WithTransaction(func(st *repository.Store) error {
		if err := st.Transactions().CreateTransaction(newTxn("USD-20260901-TAKEN2")); err != nil {
			return err
		}

		collision := st.Transactions().CreateTransaction(newTxn("USD-20260901-TAKEN2"))
		require.Error(suite.T(), collision)
		appErr, ok := collision.(*apperrors.AppError)
		require.True(suite.T(), ok, "expected AppError, got %T", collision)
		assert.Equal(suite.T(), apperrors.ReceiptExhausted, appErr.Code)

		// The tx survived the collision: a retry with a fresh receipt
		// lands in the same tx.
		return st.Transactions().CreateTransaction(newTxn("USD-20260901-FRESH2"))
	})
	require.NoError(suite.T(), err)

	var count int
	err = suite.db.QueryRow(`
		SELECT count(*) FROM transactions
		WHERE receipt_number IN ('USD-20260901-TAKEN2', 'USD-20260901-FRESH2')`).Scan(&count)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, count)
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepPublishAndReadRates()
	suite.stepRateUnavailable()
	suite.stepSellUnderLimit()
	suite.stepSellExceedingLimit()
	suite.stepBuySellRoundTrip()
	suite.stepSameDayDoubleDeposit()
	suite.stepInsufficientFundsRollsBack()
	suite.stepNoLimitConfiguredDenies()
	suite.stepInsufficientPoolDenies()
	suite.stepConcurrentSells()
	suite.stepConcurrentOverdraftPrevented()
	suite.stepConcurrentSellsDrainPool()
	suite.stepReversal()
	suite.stepConcurrentReversalAppliesOnce()
	suite.stepPoolMovementsAuditTrail()
	suite.stepAccountStatusManagement()
	suite.stepDailyReport()
	suite.stepReceiptCollisionKeepsTransactionUsable()
}
