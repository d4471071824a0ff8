package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"downloadreport/internal/domain"
)

// Snapshot is a decoded Latest or Watch message.
type Snapshot struct {
	Version uint64
	Rows    int
	Latest  []domain.LedgerRow
}

// RowsQuery narrows a Rows call. Empty fields are open.
type RowsQuery struct {
	Start    string
	End      string
	Platform string
	Limit    int
}

// HistoryClient calls the history service.
type HistoryClient struct {
	cc grpc.ClientConnInterface
}

// NewHistoryClient wraps an existing connection.
func NewHistoryClient(cc grpc.ClientConnInterface) *HistoryClient {
	return &HistoryClient{cc: cc}
}

// Dial opens an insecure connection to addr, for use inside a trusted
// network.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// Latest returns the latest row of every platform.
func (c *HistoryClient) Latest(ctx context.Context) (Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Latest", &emptypb.Empty{}, out); err != nil {
		return Snapshot{}, err
	}
	return decodeSnapshot(out)
}

// Rows returns ledger rows newest first.
func (c *HistoryClient) Rows(ctx context.Context, q RowsQuery) ([]domain.LedgerRow, error) {
	in, err := structpb.NewStruct(map[string]any{
		"start":    q.Start,
		"end":      q.End,
		"platform": q.Platform,
		"limit":    q.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Rows", in, out); err != nil {
		return nil, err
	}
	return decodeRows(out.GetFields()["rows"])
}

// Watch calls fn with the current snapshot and then with every update. It
// blocks until ctx is cancelled, the stream ends, or fn returns an error.
func (c *HistoryClient) Watch(ctx context.Context, fn func(Snapshot) error) error {
	stream, err := c.cc.NewStream(ctx, &historyServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving update: %w", err)
		}
		snap, err := decodeSnapshot(msg)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

func decodeSnapshot(s *structpb.Struct) (Snapshot, error) {
	f := s.GetFields()
	latest, err := decodeRows(f["latest"])
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version: uint64(f["version"].GetNumberValue()),
		Rows:    int(f["rows"].GetNumberValue()),
		Latest:  latest,
	}, nil
}

func decodeRows(v *structpb.Value) ([]domain.LedgerRow, error) {
	values := v.GetListValue().GetValues()
	out := make([]domain.LedgerRow, 0, len(values))
	for i, item := range values {
		f := item.GetStructValue().GetFields()
		p, err := domain.ParsePlatform(f["platform"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		report, err := time.Parse(domain.DateLayout, f["report_date"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("row %d: report_date: %w", i, err)
		}
		ingested, _ := time.Parse(domain.DateLayout, f["ingestion_date"].GetStringValue())
		out = append(out, domain.LedgerRow{
			IngestionDate:   ingested,
			ReportDate:      report,
			Platform:        p,
			DailyDownloads:  int(f["daily_downloads"].GetNumberValue()),
			CumulativeTotal: int(f["cumulative_total"].GetNumberValue()),
		})
	}
	return out, nil
}
