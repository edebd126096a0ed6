package btchat

import "context"

// TrackRequest wraps one provider round trip in a request log when logger is
// non-nil: a pending entry is written first and completed with the outcome.
// Logging failures never fail the request.
func TrackRequest(ctx context.Context, logger RequestLogger, entry RequestLog, send func() (*Result, error)) (*Result, error) {
	if logger == nil {
		return send()
	}

	var logID string
	if log, err := logger.AddRequestLog(ctx, entry); err == nil && log != nil {
		logID = log.ID
	}

	result, err := send()
	if logID == "" {
		return result, err
	}

	if err != nil {
		logger.UpdateRequestLog(ctx, logID, "", StatusFailed, ClassifyError(err), err.Error(), nil)
		return nil, err
	}

	text := result.Text()
	if text == "" {
		logger.UpdateRequestLog(ctx, logID, "", StatusFailed, FailReasonEmptyResponse, "empty completion", &result.Usage)
		return result, nil
	}

	logger.UpdateRequestLog(ctx, logID, text, StatusSuccess, "", "", &result.Usage)
	return result, nil
}

// RequestSessionID picks the session id for a request log: the context value
// set by WithSessionID, else the session of the first history message.
func RequestSessionID(ctx context.Context, history []Message) string {
	if id := SessionIDFromContext(ctx); id != "" {
		return id
	}
	if len(history) > 0 {
		return history[0].SessionID
	}
	return ""
}
