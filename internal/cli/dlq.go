package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/orderflow/internal/mq"
)

// QueueOps — операции оператора над очередями.
type QueueOps interface {
	Stats(ctx context.Context) ([]mq.QueueStats, error)
	RequeueDLQ(ctx context.Context, limit int) (int, error)
}

// BrokerOps — QueueOps поверх соединения с RabbitMQ.
type BrokerOps struct {
	conn      *mq.Connection
	publisher *mq.Publisher
}

// NewBrokerOps создаёт BrokerOps.
func NewBrokerOps(conn *mq.Connection, publisher *mq.Publisher) *BrokerOps {
	return &BrokerOps{conn: conn, publisher: publisher}
}

// Stats читает глубину orders и orders.dlq.
func (b *BrokerOps) Stats(ctx context.Context) ([]mq.QueueStats, error) {
	queues := []mq.Queue{mq.QueueOrders, mq.QueueOrdersDLQ}
	stats := make([]mq.QueueStats, 0, len(queues))
	for _, q := range queues {
		s, err := b.conn.InspectQueue(ctx, q)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// RequeueDLQ возвращает сообщения из DLQ в orders со сброшенным x-retry.
func (b *BrokerOps) RequeueDLQ(ctx context.Context, limit int) (int, error) {
	return mq.RequeueFromDLQ(ctx, b.conn, b.publisher, limit)
}

// NewDLQCmd создаёт группу команд для dead-letter очереди.
//
// opsFn открывает соединение лениво, после парсинга флагов;
// возвращаемая функция закрывает его.
func NewDLQCmd(opsFn func() (QueueOps, func(), error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and drain the dead-letter queue",
	}

	cmd.AddCommand(
		newDLQStatsCmd(opsFn, outputFn),
		newDLQRequeueCmd(opsFn, outputFn),
	)

	return cmd
}

func newDLQStatsCmd(opsFn func() (QueueOps, func(), error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message counts of orders and orders.dlq",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, closeFn, err := opsFn()
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := ops.Stats(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(stats))
			for i, s := range stats {
				rows[i] = []string{string(s.Name), strconv.Itoa(s.Messages), strconv.Itoa(s.Consumers)}
			}

			outputFn().Print([]string{"QUEUE", "MESSAGES", "CONSUMERS"}, rows, stats)
			return nil
		},
	}
}

func newDLQRequeueCmd(opsFn func() (QueueOps, func(), error), outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move messages from orders.dlq back to orders (retry count reset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, closeFn, err := opsFn()
			if err != nil {
				return err
			}
			defer closeFn()

			out := outputFn()
			moved, err := ops.RequeueDLQ(cmd.Context(), limit)
			if err != nil {
				if moved > 0 {
					out.Error(fmt.Sprintf("requeued %d message(s) before failure", moved))
				}
				return err
			}

			out.Success(fmt.Sprintf("Requeued %d message(s) from %s", moved, mq.QueueOrdersDLQ))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to move (0 = all messages in the DLQ when the command starts)")

	return cmd
}
