package rpc

import (
	"errors"

	"ragpatterns/pkg/embed"
	"ragpatterns/pkg/retrieve"
)

// rpcError pairs a JSON-RPC error code/message/data, distinct from the
// wire ErrorObject so internal handlers can build one without touching
// encoding/json directly.
type rpcError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *rpcError) toObject() *ErrorObject {
	return &ErrorObject{Code: e.Code, Message: e.Message, Data: e.Data}
}

func newRPCError(code int, message string) *rpcError {
	return &rpcError{Code: code, Message: message}
}

func parseError(message string) *rpcError {
	return newRPCError(CodeParseError, message)
}

func invalidRequest(message string) *rpcError {
	return newRPCError(CodeInvalidRequest, message)
}

func methodNotFound(method string) *rpcError {
	return newRPCError(CodeMethodNotFound, "method not found: "+method)
}

func invalidParams(message string) *rpcError {
	return newRPCError(CodeInvalidParams, message)
}

// invalidParamsField builds a -32602 error carrying data.field, so the
// caller can tell programmatically which request field was at fault
// (§4.I scenario S4, e.g. "current_state.ema_20_4h").
func invalidParamsField(field, message string) *rpcError {
	return &rpcError{
		Code:    CodeInvalidParams,
		Message: message,
		Data:    map[string]interface{}{"field": field},
	}
}

func internalError(message string) *rpcError {
	return newRPCError(CodeInternalError, message)
}

func symbolUnknown(symbol string) *rpcError {
	return newRPCError(CodeSymbolUnknown, "unknown symbol: "+symbol)
}

func indexError(message string) *rpcError {
	return newRPCError(CodeIndexError, message)
}

func embeddingError(message string) *rpcError {
	return newRPCError(CodeEmbeddingError, message)
}

// insufficientMatches builds the -32001 error with the suggestion data
// payload, mirroring original_source/error.rs's RpcError::data().
func insufficientMatches(err *retrieve.InsufficientMatchesError) *rpcError {
	return &rpcError{
		Code:    CodeInsufficientMatches,
		Message: err.Error(),
		Data: map[string]interface{}{
			"matches_found": err.MatchesFound,
			"min_required":  err.MinRequired,
			"suggestion":    "Try increasing lookback_days or reducing min_similarity",
		},
	}
}

// classifyError maps an error returned from the retrieval/embedding/index
// stack onto a JSON-RPC error, mirroring error.rs's RpcError::code().
func classifyError(err error) *rpcError {
	var ime *retrieve.InsufficientMatchesError
	if errors.As(err, &ime) {
		return insufficientMatches(ime)
	}

	var sue *retrieve.SymbolUnknownError
	if errors.As(err, &sue) {
		return symbolUnknown(sue.Symbol)
	}

	var ee *retrieve.EmbeddingError
	if errors.As(err, &ee) {
		if errors.Is(ee, embed.ErrPoolOverloaded) {
			return indexError(ee.Error())
		}
		return embeddingError(ee.Error())
	}

	var ie *retrieve.IndexError
	if errors.As(err, &ie) {
		return indexError(ie.Error())
	}

	return internalError(err.Error())
}
