package config

import (
	"github.com/spf13/viper"
)

// Load reads .env (if present) and binds the environment variables the
// service understands onto viper keys.
func Load() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	bindings := map[string]string{
		"database.host":     "DATABASE_HOST",
		"database.port":     "DATABASE_PORT",
		"database.user":     "DATABASE_USER",
		"database.password": "DATABASE_PASSWORD",
		"database.name":     "DATABASE_NAME",
		"database.ssl_mode": "DATABASE_SSL_MODE",

		"redis.host":     "REDIS_HOST",
		"redis.port":     "REDIS_PORT",
		"redis.password": "REDIS_PASSWORD",
		"redis.db":       "REDIS_DB",

		"jwt.secret_key": "JWT_SECRET_KEY",

		"logging.environment": "ENVIRONMENT",
		"logging.level":       "LOG_LEVEL",

		"sms.gateway_url": "SMS_GATEWAY_URL",
		"sms.api_key":     "SMS_API_KEY",
		"sms.sender_id":   "SMS_SENDER_ID",
		"sms.timeout":     "SMS_TIMEOUT",

		"server.port": "PORT",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("logging.environment", "production")
	viper.SetDefault("sms.timeout", "10s")
	viper.SetDefault("sms.sender_id", "AgentLedger")

	return viper.ReadInConfig()
}
