package export

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
	"github.com/23skdu/longbow-descant/internal/logger"
)

// Publisher streams codemap record batches to an Arrow Flight endpoint
// over an insecure gRPC channel.
type Publisher struct {
	client flight.Client
	addr   string
	log    *logger.Logger
}

func NewPublisher(addr string) (*Publisher, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client for %s: %w", addr, err)
	}
	return &Publisher{
		client: client,
		addr:   addr,
		log:    logger.Log.Component("export"),
	}, nil
}

// Publish sends one record batch of codemaps under the "codemaps/<level>"
// descriptor path.
func (p *Publisher) Publish(ctx context.Context, level config.Level, grids []*codemap.Grid) error {
	rec, err := NewRecord(level, grids)
	if err != nil {
		return err
	}
	defer rec.Release()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"codemaps", level.String()},
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}

	p.log.Info("published codemaps", "addr", p.addr, "level", level.String(), "count", len(grids))
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
