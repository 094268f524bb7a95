package constants

type ContextKey string

const (
	PoolKey      ContextKey = "pool"
	TxKey        ContextKey = "tx"
	AccountIDKey ContextKey = "account_id"
	LoggerKey    ContextKey = "logger"
)
