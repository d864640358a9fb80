package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// NewPublishCmd создаёт команду публикации заказов через API.
func NewPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var amount string
	var count int

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Create orders through the API (publishes order.created)",
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}

			client := clientFn()
			out := outputFn()

			orders := make([]*CreateOrderResponse, 0, count)
			rows := make([][]string, 0, count)
			for i := 0; i < count; i++ {
				order, err := client.CreateOrder(value)
				if err != nil {
					return err
				}
				orders = append(orders, order)
				rows = append(rows, []string{order.OrderID, value.String()})
			}

			out.Success(fmt.Sprintf("Published %d order(s)", len(orders)))
			out.Print([]string{"ORDER ID", "AMOUNT"}, rows, orders)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "1000", "Order amount (1000 triggers the simulated failure)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of orders to create")

	return cmd
}

// NewOrderCmd создаёт группу команд для заказов.
func NewOrderCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <order-id>",
		Short: "Show whether the worker has processed an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFn().GetOrderStatus(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"ORDER ID", "PROCESSED", "PROCESSED AT"},
				[][]string{{status.OrderID, strconv.FormatBool(status.Processed), valueOr(status.ProcessedAt, "-")}},
				status,
			)
			return nil
		},
	})

	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
