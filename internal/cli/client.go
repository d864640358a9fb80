package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CreateOrderResponse — созданный заказ из API.
type CreateOrderResponse struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

// OrderStatusResponse — состояние обработки заказа из API.
type OrderStatusResponse struct {
	OrderID     string `json:"orderId"`
	Processed   bool   `json:"processed"`
	ProcessedAt string `json:"processedAt,omitempty"`
}

// --- Request types ---

// CreateOrderRequest — создание заказа.
type CreateOrderRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для orders API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Orders ---

// CreateOrder создаёт заказ; API публикует order.created.
func (c *Client) CreateOrder(amount decimal.Decimal) (*CreateOrderResponse, error) {
	var order CreateOrderResponse
	err := c.post("/api/orders", CreateOrderRequest{Amount: amount}, &order)
	return &order, err
}

// GetOrderStatus возвращает состояние обработки заказа.
func (c *Client) GetOrderStatus(id string) (*OrderStatusResponse, error) {
	var status OrderStatusResponse
	err := c.get("/api/orders/"+id, &status)
	return &status, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
