package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/flagx"
	"github.com/dmitrijs2005/capsulekeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the server config file. Durations use
// timex.Duration so both "10m" and integer nanoseconds are accepted.
// Fields left out of the file keep their current value.
type JsonConfig struct {
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	MasterSecret                *string         `json:"master_secret"`
	MasterSalt                  *string         `json:"master_salt"`
	BurstKeyTTL                 *timex.Duration `json:"burst_key_ttl"`
	AuditQueryLimit             *int            `json:"audit_query_limit"`
	SweepInterval               *timex.Duration `json:"sweep_interval"`
	LedgerEndpoint              *string         `json:"ledger_endpoint"`
	LockBackend                 *string         `json:"lock_backend"`
	RedisAddr                   *string         `json:"redis_addr"`
	RedisPassword               *string         `json:"redis_password"`
	RedisDB                     *int            `json:"redis_db"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	OutboundWorkers             *int            `json:"outbound_workers"`
	OutboundQueueSize           *int            `json:"outbound_queue_size"`
	OutboundMaxRetries          *int            `json:"outbound_max_retries"`
	OutboundBaseBackoff         *timex.Duration `json:"outbound_base_backoff"`
}

// parseJson overlays values from the JSON file named by -c/-config onto config.
// Nothing happens when no file is given. An unreadable or malformed file panics,
// since the server cannot start with a config it was told to use but can't read.
func parseJson(config *Config, argv []string) {
	path := flagx.ConfigFileFlag(argv)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.MasterSecret, c.MasterSecret)
	setString(&config.MasterSalt, c.MasterSalt)
	setDuration(&config.BurstKeyTTL, c.BurstKeyTTL)
	setInt(&config.AuditQueryLimit, c.AuditQueryLimit)
	setDuration(&config.SweepInterval, c.SweepInterval)
	setString(&config.LedgerEndpoint, c.LedgerEndpoint)
	setString(&config.LockBackend, c.LockBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setInt(&config.OutboundWorkers, c.OutboundWorkers)
	setInt(&config.OutboundQueueSize, c.OutboundQueueSize)
	setInt(&config.OutboundMaxRetries, c.OutboundMaxRetries)
	setDuration(&config.OutboundBaseBackoff, c.OutboundBaseBackoff)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
