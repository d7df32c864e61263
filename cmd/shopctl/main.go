// shopctl drives the checkout pipeline against running services: create
// the order, reserve stock per line item, create the payment, process it.
// Reservation failures cancel the order; payment failures release the
// reserved stock. The services themselves never call each other for this
// flow, the pipeline owns the sequencing.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios   []scenario
	selectedScn int
	status      string
	steps       []string
	metrics     string
	busy        bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"checkout", "Create order, reserve stock, pay"},
			{"cancel", "Create order, then cancel it"},
			{"bench", "Run checkout benchmark"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "down":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			m.steps = nil
			m.metrics = ""
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.steps = msg.steps
		m.metrics = msg.metrics
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "shopctl")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	for _, step := range m.steps {
		fmt.Fprintf(b, "  %s\n", step)
	}
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.metrics != "" {
		fmt.Fprintf(b, "Metrics: %s\n", m.metrics)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	steps   []string
	metrics string
}

type endpoints struct {
	orders    string
	payments  string
	inventory string
}

func loadEndpoints() endpoints {
	return endpoints{
		orders:    strings.TrimRight(getenv("ORDER_BASE_URL", "http://localhost:8080"), "/"),
		payments:  strings.TrimRight(getenv("PAYMENT_BASE_URL", "http://localhost:8082"), "/"),
		inventory: strings.TrimRight(getenv("INVENTORY_BASE_URL", "http://localhost:8083"), "/"),
	}
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		eps := loadEndpoints()
		switch scn {
		case "bench":
			return scenarioResult{status: "Benchmark finished", metrics: runBenchmark(eps)}
		case "cancel":
			return runCancel(eps)
		default:
			return runCheckout(eps)
		}
	}
}

type lineItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type orderView struct {
	OrderID     string          `json:"orderId"`
	Status      string          `json:"status"`
	TotalAmount json.RawMessage `json:"totalAmount"`
	Items       []lineItem      `json:"items"`
}

type paymentView struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

func runCheckout(eps endpoints) scenarioResult {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var steps []string
	items := []lineItem{{ItemID: "sku-1", Quantity: 1}}

	o, err := createOrder(ctx, eps, items)
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Create order failed: %v", err), steps: steps}
	}
	steps = append(steps, fmt.Sprintf("order %s created (%s)", o.OrderID, o.Status))

	for _, it := range o.Items {
		if err := reserveStock(ctx, eps, it); err != nil {
			steps = append(steps, fmt.Sprintf("reserve %s failed: %v", it.ItemID, err))
			_ = cancelOrder(ctx, eps, o.OrderID)
			return scenarioResult{status: "Checkout aborted: stock unavailable, order canceled", steps: steps}
		}
		steps = append(steps, fmt.Sprintf("reserved %dx %s", it.Quantity, it.ItemID))
	}

	p, err := createPayment(ctx, eps, o)
	if err != nil {
		releaseAll(ctx, eps, o.Items)
		return scenarioResult{status: fmt.Sprintf("Create payment failed: %v", err), steps: steps}
	}
	steps = append(steps, fmt.Sprintf("payment %s created (%s)", p.PaymentID, p.Status))

	p, err = processPayment(ctx, eps, p.PaymentID)
	if err != nil {
		releaseAll(ctx, eps, o.Items)
		steps = append(steps, "released reserved stock")
		return scenarioResult{status: fmt.Sprintf("Payment failed: %v", err), steps: steps}
	}
	steps = append(steps, fmt.Sprintf("payment %s processed (%s)", p.PaymentID, p.Status))

	return scenarioResult{status: "Checkout OK, order transitions to PAID via payment-success", steps: steps}
}

func runCancel(eps endpoints) scenarioResult {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	o, err := createOrder(ctx, eps, []lineItem{{ItemID: "sku-1", Quantity: 1}})
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("Create order failed: %v", err)}
	}
	if err := cancelOrder(ctx, eps, o.OrderID); err != nil {
		return scenarioResult{status: fmt.Sprintf("Cancel failed: %v", err)}
	}
	return scenarioResult{
		status: "Cancel OK",
		steps:  []string{fmt.Sprintf("order %s created then canceled", o.OrderID)},
	}
}

func createOrder(ctx context.Context, eps endpoints, items []lineItem) (orderView, error) {
	payload := map[string]any{
		"userId": getenv("SHOP_USER_ID", "user-demo"),
		"items":  items,
		"shippingAddress": map[string]string{
			"street": "1 Demo St", "city": "Springfield", "state": "IL",
			"zipCode": "62701", "country": "US",
		},
	}
	var o orderView
	err := call(ctx, http.MethodPost, eps.orders+"/api/orders", payload, "", &o)
	return o, err
}

func cancelOrder(ctx context.Context, eps endpoints, orderID string) error {
	return call(ctx, http.MethodPost, eps.orders+"/api/orders/"+orderID+"/cancel", nil, "", nil)
}

func reserveStock(ctx context.Context, eps endpoints, it lineItem) error {
	payload := map[string]int{"quantity": it.Quantity}
	return call(ctx, http.MethodPost, eps.inventory+"/api/inventory/"+it.ItemID+"/reserve", payload, "", nil)
}

func releaseAll(ctx context.Context, eps endpoints, items []lineItem) {
	for _, it := range items {
		payload := map[string]int{"quantity": it.Quantity}
		_ = call(ctx, http.MethodPost, eps.inventory+"/api/inventory/"+it.ItemID+"/release", payload, "", nil)
	}
}

func createPayment(ctx context.Context, eps endpoints, o orderView) (paymentView, error) {
	payload := map[string]any{
		"orderId":       o.OrderID,
		"userId":        getenv("SHOP_USER_ID", "user-demo"),
		"amount":        o.TotalAmount,
		"paymentMethod": "CREDIT_CARD",
	}
	var p paymentView
	err := call(ctx, http.MethodPost, eps.payments+"/api/payments", payload, uuid.NewString(), &p)
	return p, err
}

func processPayment(ctx context.Context, eps endpoints, paymentID string) (paymentView, error) {
	var p paymentView
	err := call(ctx, http.MethodPost, eps.payments+"/api/payments/"+paymentID+"/process", map[string]any{}, "", &p)
	return p, err
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"errorCode"`
}

func call(ctx context.Context, method, url string, payload any, idemKey string, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	if !env.Success {
		return fmt.Errorf("%s (%s)", env.Message, env.ErrorCode)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func runBenchmark(eps endpoints) string {
	duration := 5 * time.Second
	vus := 5
	var mu sync.Mutex
	var total time.Duration
	var count int
	var errors int
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					start := time.Now()
					res := runCheckout(eps)
					mu.Lock()
					if !strings.HasPrefix(res.status, "Checkout OK") {
						errors++
					} else {
						count++
						total += time.Since(start)
					}
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	avg := time.Duration(0)
	if count > 0 {
		avg = total / time.Duration(count)
	}
	throughput := float64(count) / duration.Seconds()
	return fmt.Sprintf("count=%d errors=%d avg=%s throughput=%.2f checkouts/s", count, errors, avg, throughput)
}

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|cancel|bench")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		for _, step := range res.steps {
			fmt.Println(" ", step)
		}
		fmt.Println(res.status)
		if res.metrics != "" {
			fmt.Println(res.metrics)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
