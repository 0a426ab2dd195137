package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a TesseraError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *TesseraError {
	if err == nil {
		return nil
	}

	// If it's already a TesseraError, keep its location but retag it
	var te *TesseraError
	if errors.As(err, &te) {
		return &TesseraError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Op:          te.Op,
			Cause:       te,
			Context:     te.Context,
			Region:      te.Region,
			Path:        te.Path,
			Recoverable: te.Recoverable,
		}
	}

	return &TesseraError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeIO || errType == ErrorTypeDecode || errType == ErrorTypeRejected,
	}
}

// WrapIO wraps an error as a region I/O error
func WrapIO(err error, code, message string, x, y int32) *TesseraError {
	templErr := Wrap(err, ErrorTypeIO, code, message)
	if templErr != nil {
		templErr.WithRegion(x, y)
	}
	return templErr
}

// WrapDecode wraps an error as a structural decode error
func WrapDecode(err error, message string, x, y int32) *TesseraError {
	templErr := Wrap(err, ErrorTypeDecode, ErrCodeCorruptRegion, message)
	if templErr != nil {
		templErr.WithRegion(x, y)
	}
	return templErr
}

// WrapGenerate wraps a generator failure
func WrapGenerate(err error, x, y int32) *TesseraError {
	templErr := Wrap(err, ErrorTypeGenerate, ErrCodeGenerateFailed, "generator failed")
	if templErr != nil {
		templErr.WithRegion(x, y).WithOp("generate")
	}
	return templErr
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *TesseraError {
	templErr := Wrap(err, ErrorTypeConfig, code, message)
	if templErr != nil {
		templErr.Recoverable = false
	}
	return templErr
}

// GetErrorContext extracts context information from a TesseraError
func GetErrorContext(err error) map[string]interface{} {
	var te *TesseraError
	if errors.As(err, &te) {
		context := make(map[string]interface{})
		for k, v := range te.Context {
			context[k] = v
		}
		if te.Op != "" {
			context["op"] = te.Op
		}
		if te.Region != nil {
			context["region_x"] = te.Region.X
			context["region_y"] = te.Region.Y
		}
		if te.Path != "" {
			context["path"] = te.Path
		}
		context["type"] = string(te.Type)
		context["code"] = te.Code
		context["recoverable"] = te.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// IsRetryable reports whether the failed region operation should be
// attempted again later.
func IsRetryable(err error) bool {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeIO || te.Type == ErrorTypeDecode || te.Type == ErrorTypeRejected
	}
	return false
}
