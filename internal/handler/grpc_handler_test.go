package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-acq-requests/internal/engine/classify"
	"github.com/pesio-ai/be-acq-requests/internal/engine/funding"
	"github.com/pesio-ai/be-acq-requests/internal/engine/readiness"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/service"
)

type grpcEnv struct {
	requests *fakeRequests
	packages *fakePackages
	funding  *fakeFunding
	conn     *grpc.ClientConn
}

func newGRPCEnv(t *testing.T) *grpcEnv {
	t.Helper()
	env := &grpcEnv{
		requests: &fakeRequests{},
		packages: &fakePackages{},
		funding:  &fakeFunding{},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(logger.Nop())))
	NewGRPCHandler(Services{
		Requests: env.requests,
		Packages: env.packages,
		Funding:  env.funding,
	}, logger.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	env.conn = conn
	return env
}

func (env *grpcEnv) call(t *testing.T, method string, in map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = env.conn.Invoke(context.Background(), "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_Classify(t *testing.T) {
	env := newGRPCEnv(t)
	env.requests.previewFn = func(a classify.IntakeAnswers, value float64) classify.Result {
		return classify.Result{AcquisitionType: "new_competitive", Tier: classify.TierMicro, Pipeline: "micro", Source: "rule"}
	}

	out, err := env.call(t, "Classify", map[string]interface{}{
		"intake_q1_need_type": "new",
		"estimated_value":     9000,
	})
	require.NoError(t, err)
	assert.Equal(t, "micro", out.GetFields()["tier"].GetStringValue())

	_, err = env.call(t, "Classify", map[string]interface{}{"estimated_value": 9000})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_CheckGate(t *testing.T) {
	env := newGRPCEnv(t)
	env.packages.checkGateFn = func(requestID, gate string) (readiness.Result, error) {
		if requestID == "req-missing" {
			return readiness.Result{}, errors.NotFound("request", requestID)
		}
		return readiness.Result{
			Gate:     gate,
			Blockers: []readiness.Blocker{{Kind: readiness.KindAdvisory, Title: "SCRM", Reason: "SCRM review is requested"}},
		}, nil
	}

	out, err := env.call(t, "CheckGate", map[string]interface{}{"request_id": "req-1", "gate": "iss"})
	require.NoError(t, err)
	assert.False(t, out.GetFields()["ready"].GetBoolValue())
	assert.Len(t, out.GetFields()["blockers"].GetListValue().GetValues(), 1)

	_, err = env.call(t, "CheckGate", map[string]interface{}{"request_id": "req-missing", "gate": "iss"})
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, "request not found", st.Message())
}

func TestGRPC_CheckBalance(t *testing.T) {
	env := newGRPCEnv(t)
	env.funding.balanceFn = func(in service.BalanceInput) (funding.BalanceCheck, error) {
		if in.Amount <= 0 {
			return funding.BalanceCheck{}, assert.AnError
		}
		return funding.BalanceCheck{CLINID: in.CLINID, Requested: in.Amount, Available: 1000, Sufficient: true}, nil
	}

	out, err := env.call(t, "CheckBalance", map[string]interface{}{"clin_id": "clin-1", "amount": 250})
	require.NoError(t, err)
	assert.True(t, out.GetFields()["sufficient"].GetBoolValue())
	assert.Equal(t, 1000.0, out.GetFields()["available"].GetNumberValue())

	_, err = env.call(t, "CheckBalance", map[string]interface{}{"clin_id": "clin-1", "amount": 0})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "internal error", st.Message())
}
