package ws

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// eventMessage flattens ev into the envelope sent to clients. Amounts are
// decimal strings so no precision is lost in either encoding.
func eventMessage(ev domain.PoolEvent) map[string]any {
	payload := map[string]any{
		"id":    ev.ID,
		"pool":  ev.Pool.Hex(),
		"state": ev.State.String(),
		"at":    ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Account != (common.Address{}) {
		payload["account"] = ev.Account.Hex()
	}
	if ev.Outcome != domain.OutcomeNone {
		payload["outcome"] = ev.Outcome.String()
	}
	if ev.Amount != nil {
		payload["amount"] = ev.Amount.String()
	}
	if ev.RequestID != (common.Hash{}) {
		payload["request_id"] = ev.RequestID.Hex()
	}
	if ev.Cycle > 0 {
		payload["cycle"] = ev.Cycle
	}
	return map[string]any{
		"type":    string(ev.Type),
		"payload": payload,
	}
}

// encodeBinary serialises msg as a protobuf Struct.
func encodeBinary(msg map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeBinary is the inverse of the binary frame encoding.
func DecodeBinary(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
