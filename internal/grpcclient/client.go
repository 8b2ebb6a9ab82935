package grpcclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/image-check/internal/inference"
	"github.com/example/image-check/internal/logging"
)

// DefaultMethod is the unary method invoked when none is configured.
const DefaultMethod = "/predict.Predictor/Predict"

// DialPredictor returns a ready-to-use gRPC predictor. The request is a
// google.protobuf.BytesValue with the image and the reply a
// google.protobuf.Struct carrying a numeric "result" field.
func DialPredictor(ctx context.Context, addr, method string, logger *zap.Logger, opts ...grpc.DialOption) (inference.Predictor, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if method == "" {
		method = DefaultMethod
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_predictor", "", err)
		logger.Error("failed to dial predictor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcPredictor{conn: conn, method: method, logger: logger.Named("grpcclient")}, conn, nil
}

type grpcPredictor struct {
	conn   grpc.ClientConnInterface
	method string
	logger *zap.Logger
}

func (g *grpcPredictor) Predict(ctx context.Context, img inference.Image) (*inference.Prediction, error) {
	reply := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, g.method, wrapperspb.Bytes(img.Data), reply); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		g.logger.Warn("predictor call failed", zap.Error(wrapped), zap.String("method", g.method))
		return nil, wrapped
	}

	field, ok := reply.GetFields()["result"]
	if !ok {
		return &inference.Prediction{}, nil
	}
	number, ok := field.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		if field.GetKind() == nil {
			return nil, logging.NewOperationError("grpcclient.decode", "", errors.New("result field has no value"))
		}
		return &inference.Prediction{}, nil
	}

	pred := &inference.Prediction{}
	pred.Label, pred.Numeric = inference.LabelFromNumber(number.NumberValue)
	return pred, nil
}
