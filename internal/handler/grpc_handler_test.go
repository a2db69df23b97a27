package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/identity"
)

type grpcTestClient struct {
	conn *grpc.ClientConn
}

func newGRPCTestClient(t *testing.T) *grpcTestClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(ActorInterceptor()))
	NewGRPCHandler(newTestServices(t), zerolog.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcTestClient{conn: conn}
}

func (c *grpcTestClient) call(actor *identity.Actor, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if actor != nil {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-actor-id", actor.ID, "x-actor-role", string(actor.Role))
	}
	out := new(structpb.Struct)
	err = c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPCProposalFlow(t *testing.T) {
	c := newGRPCTestClient(t)

	out, err := c.call(&clientActor, "SubmitProposal", map[string]any{
		"track_id":        "track-1",
		"sync_fee":        "250.00",
		"payment_terms":   "immediate",
		"expiration_date": testNow.Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	id := out.GetFields()["id"].GetStringValue()
	require.NotEmpty(t, id)

	_, err = c.call(&producerActor, "ProducerDecide", map[string]any{"proposal_id": id, "decision": "accept"})
	require.NoError(t, err)
	_, err = c.call(&clientActor, "ClientDecide", map[string]any{"proposal_id": id, "decision": "accept"})
	require.NoError(t, err)

	out, err = c.call(&adminActor, "GetPendingPayment", map[string]any{"proposal_id": id})
	require.NoError(t, err)
	assert.Equal(t, "250", out.GetFields()["amount"].GetStringValue())

	out, err = c.call(&adminActor, "RecordPayment", map[string]any{"proposal_id": id, "event_id": "pay-1"})
	require.NoError(t, err)
	state := out.GetFields()["state"].GetStructValue()
	assert.Equal(t, "settled", state.GetFields()["phase"].GetStringValue())

	_, err = c.call(&adminActor, "RecordPayment", map[string]any{"proposal_id": id})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	out, err = c.call(&producerActor, "GetBalance", map[string]any{"producer_id": "producer-1"})
	require.NoError(t, err)
	assert.Equal(t, "250", out.GetFields()["pending_balance"].GetStringValue())

	out, err = c.call(&producerActor, "ListTransactions", map[string]any{"producer_id": "producer-1", "limit": 10})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out.GetFields()["total"].GetNumberValue())
}

func TestGRPCErrors(t *testing.T) {
	c := newGRPCTestClient(t)

	_, err := c.call(nil, "GetBalance", map[string]any{"producer_id": "producer-1"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.call(&producerActor, "GetProposal", map[string]any{"proposal_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.call(&producerActor, "Adjust", map[string]any{"producer_id": "producer-1", "amount": "5", "description": "x"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = c.call(&producerActor, "RequestWithdrawal", map[string]any{"amount": "75.00", "payment_method_id": "pm-1"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = c.call(&producerActor, "RecordPayment", map[string]any{"proposal_id": "missing"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.InvalidInput("amount", "must be positive"), codes.InvalidArgument},
		{errors.InvalidTransition("already decided"), codes.FailedPrecondition},
		{errors.InsufficientFunds("short"), codes.FailedPrecondition},
		{errors.NotFound("proposal", "p-1"), codes.NotFound},
		{errors.StorageConflict(nil), codes.Aborted},
		{errors.DownstreamUnavailable("redis", nil), codes.Unavailable},
		{errors.Forbidden("no"), codes.PermissionDenied},
		{errors.New(errors.ErrCodeUnauthorized, "who"), codes.Unauthenticated},
		{errors.New(errors.ErrCodeInternal, "boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)), tt.err.Error())
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
