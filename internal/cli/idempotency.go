package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/orderflow/internal/repo"
)

// ProcessedStore — durable-хранилище обработанных заказов.
// Реализация: *repo.ProcessedOrderRepo.
type ProcessedStore interface {
	ProcessedAt(ctx context.Context, orderID uuid.UUID) (time.Time, error)
	Count(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// NewIdempotencyCmd создаёт группу команд для хранилища идемпотентности.
func NewIdempotencyCmd(storeFn func(ctx context.Context) (ProcessedStore, func(), error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Inspect the processed-orders store",
	}

	cmd.AddCommand(
		newIdempotencyCheckCmd(storeFn, outputFn),
		newIdempotencyResetCmd(storeFn, outputFn),
	)

	return cmd
}

func newIdempotencyCheckCmd(storeFn func(ctx context.Context) (ProcessedStore, func(), error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "check <order-id>",
		Short: "Show whether an order is marked as processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q: %w", args[0], err)
			}

			store, closeFn, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result := struct {
				OrderID     uuid.UUID  `json:"orderId"`
				Processed   bool       `json:"processed"`
				ProcessedAt *time.Time `json:"processedAt,omitempty"`
			}{OrderID: id}

			at, err := store.ProcessedAt(cmd.Context(), id)
			switch {
			case errors.Is(err, repo.ErrNotFound):
			case err != nil:
				return err
			default:
				result.Processed = true
				result.ProcessedAt = &at
			}

			processedAt := "-"
			if result.ProcessedAt != nil {
				processedAt = result.ProcessedAt.Format(time.RFC3339)
			}

			outputFn().Print(
				[]string{"ORDER ID", "PROCESSED", "PROCESSED AT"},
				[][]string{{id.String(), strconv.FormatBool(result.Processed), processedAt}},
				result,
			)
			return nil
		},
	}
}

func newIdempotencyResetCmd(storeFn func(ctx context.Context) (ProcessedStore, func(), error), outputFn func() *Output) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget all processed orders (redelivered orders will run again)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to reset without --yes")
			}

			store, closeFn, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Removed %d processed order(s)", n))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the reset")

	return cmd
}
