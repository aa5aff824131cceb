package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrNoStructuredOutput means the model produced text that does not
	// satisfy the verdict schema. Callers degrade to manual resolution.
	ErrNoStructuredOutput = errors.New("no structured output")

	// ErrResolverUnavailable covers transport and provider failures on the
	// resolution call. The market is left untouched and retry is safe.
	ErrResolverUnavailable = errors.New("resolver unavailable")

	// ErrMarketResolved means a settlement was attempted against a market
	// already in its terminal state.
	ErrMarketResolved = errors.New("market already resolved")

	// ErrMarketNotClosed means a settlement was attempted before the
	// market's close time.
	ErrMarketNotClosed = errors.New("market close time has not passed")

	// ErrManualOutcome means a manual settlement carried an outcome other
	// than YES or NO.
	ErrManualOutcome = errors.New("manual settlement outcome must be YES or NO")

	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
)
