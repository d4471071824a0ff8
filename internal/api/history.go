// Package api provides the gRPC history service that exposes the download
// ledger to other tools, and a client for it.
package api

import (
	"context"
	"log/slog"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"downloadreport/internal/dashboard"
	"downloadreport/internal/domain"
	"downloadreport/internal/live"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "downloadreport.v1.HistoryService"

// historyService is the server-side contract of the service descriptor.
type historyService interface {
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Rows(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var historyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*historyService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
		{MethodName: "Rows", Handler: rowsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
}

func latestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(historyService).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Latest"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(historyService).Latest(ctx, req.(*emptypb.Empty))
	})
}

func rowsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(historyService).Rows(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Rows"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(historyService).Rows(ctx, req.(*structpb.Struct))
	})
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(historyService).Watch(in, stream)
}

// HistoryServer implements the history service over a ledger snapshot.
type HistoryServer struct {
	model *live.LedgerModel
	log   *slog.Logger
}

// NewHistoryServer creates a server backed by model.
func NewHistoryServer(model *live.LedgerModel, log *slog.Logger) *HistoryServer {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryServer{model: model, log: log.With("component", "grpc-history")}
}

// RegisterGRPC registers the service on gs.
func (s *HistoryServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&historyServiceDesc, s)
}

// Latest returns the latest row of every platform.
func (s *HistoryServer) Latest(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return eventToStruct(s.model.Snapshot())
}

// Rows returns ledger rows newest first. The request may carry string
// fields start, end (YYYY-MM-DD) and platform, and a numeric limit.
func (s *HistoryServer) Rows(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, err := dashboard.ParseFilter(stringField(req, "start"), stringField(req, "end"), stringField(req, "platform"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	table := dashboard.Table(f.Apply(s.model.Rows()))
	if n := intField(req, "limit"); n > 0 && n < len(table) {
		table = table[:n]
	}
	return rowsToStruct(table)
}

// Watch sends the current snapshot, then one message per ledger update
// until the client goes away.
func (s *HistoryServer) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	subID, ch := s.model.Subscribe(16)
	defer s.model.Unsubscribe(subID)
	s.log.Info("grpc client subscribed", "subID", subID)

	send := func(evt live.UpdateEvent) error {
		msg, err := eventToStruct(evt)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		return stream.SendMsg(msg)
	}

	if err := send(s.model.Snapshot()); err != nil {
		return err
	}
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(evt); err != nil {
				return err
			}
		}
	}
}

func rowToMap(r domain.LedgerRow) map[string]any {
	return map[string]any{
		"ingestion_date":   r.IngestionDate.Format(domain.DateLayout),
		"report_date":      r.ReportDate.Format(domain.DateLayout),
		"platform":         string(r.Platform),
		"daily_downloads":  r.DailyDownloads,
		"cumulative_total": r.CumulativeTotal,
	}
}

func rowsToStruct(rows []domain.LedgerRow) (*structpb.Struct, error) {
	list := make([]any, 0, len(rows))
	for _, r := range rows {
		list = append(list, rowToMap(r))
	}
	return structpb.NewStruct(map[string]any{"rows": list})
}

func eventToStruct(evt live.UpdateEvent) (*structpb.Struct, error) {
	latest := make([]domain.LedgerRow, 0, len(evt.Latest))
	for _, r := range evt.Latest {
		latest = append(latest, r)
	}
	sort.Slice(latest, func(i, j int) bool { return latest[i].Platform.Order() < latest[j].Platform.Order() })

	list := make([]any, 0, len(latest))
	for _, r := range latest {
		list = append(list, rowToMap(r))
	}
	return structpb.NewStruct(map[string]any{
		"version": evt.Version,
		"rows":    evt.Rows,
		"latest":  list,
	})
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func intField(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}
