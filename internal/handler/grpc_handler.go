package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/events"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mybeatfi.sync.v1.SyncSettlementService"

// GRPCHandler exposes the service layer over gRPC. Requests and responses
// are google.protobuf.Struct documents carrying the same JSON shapes as the
// REST API.
type GRPCHandler struct {
	svc    Services
	logger zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc:    svc,
		logger: logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(h.serviceDesc(), h)
}

type grpcMethod func(ctx context.Context, actor identity.Actor, req *structpb.Struct) (any, error)

func (h *GRPCHandler) methods() map[string]grpcMethod {
	return map[string]grpcMethod{
		"SubmitProposal":    h.submitProposal,
		"GetProposal":       h.getProposal,
		"ListProposals":     h.listProposals,
		"ProducerDecide":    h.producerDecide,
		"ClientDecide":      h.clientDecide,
		"GetHistory":        h.getHistory,
		"PostMessage":       h.postMessage,
		"ListMessages":      h.listMessages,
		"RecordPayment":     h.recordPayment,
		"GetPendingPayment": h.getPendingPayment,
		"GetBalance":        h.getBalance,
		"ListTransactions":  h.listTransactions,
		"Adjust":            h.adjust,
		"RequestWithdrawal": h.requestWithdrawal,
		"GetWithdrawal":     h.getWithdrawal,
		"ListWithdrawals":   h.listWithdrawals,
		"ApproveWithdrawal": h.approveWithdrawal,
		"RejectWithdrawal":  h.rejectWithdrawal,
	}
}

func (h *GRPCHandler) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "mybeatfi/sync/v1/sync_settlement.proto",
	}
	for name, fn := range h.methods() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    h.unaryHandler(name, fn),
		})
	}
	return desc
}

func (h *GRPCHandler) unaryHandler(name string, fn grpcMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			actor, _ := identity.FromContext(ctx)
			out, err := fn(ctx, actor, req.(*structpb.Struct))
			if err != nil {
				if errors.CodeOf(err) == errors.ErrCodeInternal {
					h.logger.Error().Err(err).Str("method", name).Msg("gRPC request failed")
				}
				return nil, mapErrorToGRPC(err)
			}
			return toStruct(out)
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: h, FullMethod: fullMethod}, call)
	}
}

// ActorInterceptor reads x-actor-id and x-actor-role from the incoming
// metadata. Calls to this service without an actor are rejected; other
// services on the same server (health) pass through.
func ActorInterceptor() grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		id := firstValue(md, "x-actor-id")
		if id == "" {
			return nil, status.Error(codes.Unauthenticated, "missing x-actor-id metadata")
		}
		role, err := identity.ParseRole(firstValue(md, "x-actor-role"))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(identity.WithActor(ctx, identity.Actor{ID: id, Role: role}), req)
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid request")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid request")
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func pageFields(in *structpb.Struct) (limit, offset int) {
	fields := in.GetFields()
	limit = int(fields["limit"].GetNumberValue())
	offset = int(fields["offset"].GetNumberValue())
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *GRPCHandler) submitProposal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	var body submitProposalBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	if body.ClientID == "" {
		body.ClientID = actor.ID
	}
	return h.svc.Proposals.Submit(ctx, actor, &service.SubmitProposalRequest{
		TrackID:          body.TrackID,
		ClientID:         body.ClientID,
		SyncFee:          body.SyncFee,
		PaymentTerms:     body.PaymentTerms,
		ExpirationDate:   body.ExpirationDate,
		IsUrgent:         body.IsUrgent,
		ProjectTitle:     body.ProjectTitle,
		ProjectType:      body.ProjectType,
		UsageDescription: body.UsageDescription,
		Duration:         body.Duration,
		Territory:        body.Territory,
	})
}

func (h *GRPCHandler) getProposal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Proposals.GetProposal(ctx, actor, stringField(in, "proposal_id"))
}

func (h *GRPCHandler) listProposals(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	limit, offset := pageFields(in)
	filter := repository.ProposalFilter{Limit: limit, Offset: offset}
	if v := stringField(in, "client_id"); v != "" {
		filter.ClientID = &v
	}
	if v := stringField(in, "producer_id"); v != "" {
		filter.ProducerID = &v
	}
	if v := stringField(in, "phase"); v != "" {
		phase, err := repository.ParsePhase(v)
		if err != nil {
			return nil, errors.InvalidInput("phase", err.Error())
		}
		filter.Phase = &phase
	}
	items, total, err := h.svc.Proposals.ListProposals(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "total": total}, nil
}

func (h *GRPCHandler) producerDecide(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	decision := repository.Decision(stringField(in, "decision"))
	return h.svc.Proposals.ProducerDecide(ctx, actor, stringField(in, "proposal_id"), decision)
}

func (h *GRPCHandler) clientDecide(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	decision := repository.Decision(stringField(in, "decision"))
	return h.svc.Proposals.ClientDecide(ctx, actor, stringField(in, "proposal_id"), decision)
}

func (h *GRPCHandler) getHistory(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	entries, err := h.svc.Proposals.GetHistory(ctx, actor, stringField(in, "proposal_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": entries}, nil
}

func (h *GRPCHandler) postMessage(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	var body struct {
		ProposalID string `json:"proposal_id"`
		postMessageBody
	}
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	return h.svc.Negotiation.PostMessage(ctx, actor, &service.PostMessageRequest{
		ProposalID:   body.ProposalID,
		Message:      body.Message,
		CounterOffer: body.CounterOffer,
		CounterTerms: body.CounterTerms,
	})
}

func (h *GRPCHandler) listMessages(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	msgs, err := h.svc.Negotiation.ListMessages(ctx, actor, stringField(in, "proposal_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": msgs}, nil
}

func (h *GRPCHandler) recordPayment(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only the payment collaborator may confirm payments")
	}
	res, err := h.svc.Payments.Handle(ctx, events.PaymentCompleted{
		EventID:    stringField(in, "event_id"),
		ProposalID: stringField(in, "proposal_id"),
	}, "grpc")
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		return map[string]any{"duplicate": true}, nil
	}
	return res.Proposal, nil
}

func (h *GRPCHandler) getPendingPayment(ctx context.Context, _ identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Proposals.GetPendingPayment(ctx, stringField(in, "proposal_id"))
}

func (h *GRPCHandler) getBalance(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Ledger.GetBalance(ctx, actor, stringField(in, "producer_id"))
}

func (h *GRPCHandler) listTransactions(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	limit, offset := pageFields(in)
	txns, total, err := h.svc.Ledger.ListTransactions(ctx, actor, stringField(in, "producer_id"), limit, offset)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": txns, "total": total}, nil
}

func (h *GRPCHandler) adjust(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	var body adjustBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	return h.svc.Ledger.Adjust(ctx, actor, &service.AdjustRequest{
		ProducerID:  body.ProducerID,
		Amount:      body.Amount,
		Description: body.Description,
	})
}

func (h *GRPCHandler) requestWithdrawal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	var body withdrawalBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	return h.svc.Withdrawals.RequestWithdrawal(ctx, actor, &service.RequestWithdrawalRequest{
		ProducerID:      body.ProducerID,
		Amount:          body.Amount,
		PaymentMethodID: body.PaymentMethodID,
	})
}

func (h *GRPCHandler) getWithdrawal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Withdrawals.GetWithdrawal(ctx, actor, stringField(in, "withdrawal_id"))
}

func (h *GRPCHandler) listWithdrawals(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	limit, offset := pageFields(in)
	filter := repository.WithdrawalFilter{Limit: limit, Offset: offset}
	if v := stringField(in, "producer_id"); v != "" {
		filter.ProducerID = &v
	}
	if v := stringField(in, "status"); v != "" {
		st := repository.WithdrawalStatus(v)
		filter.Status = &st
	}
	items, total, err := h.svc.Withdrawals.ListWithdrawals(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "total": total}, nil
}

func (h *GRPCHandler) approveWithdrawal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Withdrawals.Approve(ctx, actor, stringField(in, "withdrawal_id"), stringField(in, "notes"))
}

func (h *GRPCHandler) rejectWithdrawal(ctx context.Context, actor identity.Actor, in *structpb.Struct) (any, error) {
	return h.svc.Withdrawals.Reject(ctx, actor, stringField(in, "withdrawal_id"), stringField(in, "reason"))
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()

	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, errMsg)
	case errors.ErrCodeInvalidTransition, errors.ErrCodeInsufficientFunds:
		return status.Error(codes.FailedPrecondition, errMsg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, errMsg)
	case errors.ErrCodeStorageConflict:
		return status.Error(codes.Aborted, errMsg)
	case errors.ErrCodeDownstreamUnavailable:
		return status.Error(codes.Unavailable, errMsg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, errMsg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, errMsg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
