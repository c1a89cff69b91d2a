package protocol

import (
	"stellarcolony.ai/internal/sim/engine"
)

func (m IntentMsg) Intent() engine.Intent {
	return engine.Intent{
		Kind:       engine.IntentKind(m.Kind),
		Resource:   m.Resource,
		Structure:  m.Structure,
		ContractID: m.ContractID,
	}
}

// NewResult builds the RESULT for one intent. res is ignored when err is set.
func NewResult(reqID string, tick uint64, res engine.Result, err error) ResultMsg {
	msg := ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Accepted:        err == nil,
		Tick:            tick,
	}
	if err != nil {
		msg.Code = CodeFor(err)
		msg.Message = err.Error()
		return msg
	}
	msg.Result = res
	return msg
}

func Rejected(reqID string, tick uint64, code, message string) ResultMsg {
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
		Tick:            tick,
	}
}

func NewState(snap engine.Snapshot) StateMsg {
	return StateMsg{Type: TypeState, ProtocolVersion: Version, Tick: snap.Tick, State: snap}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
