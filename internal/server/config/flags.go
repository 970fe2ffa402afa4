package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/flagx"
)

var serverFlags = []string{"-a", "-d", "-s", "-k", "-t", "-l", "-i", "-x", "-o", "-r", "-u", "-p", "-b", "-g", "-e"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   capsule master secret
//	-t int      burst key validity, minutes
//	-l int      audit query limit
//	-i int      expiry sweep interval, seconds (0 disables)
//	-x string   ledger mirror endpoint
//	-o string   grant lock backend: postgres or redis
//	-r string   redis address
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name (empty disables the archive)
//	-g string   S3 region
//	-e string   S3 base endpoint
//
// The args are filtered with flagx.FilterArgs first so that the -c/-config
// flag handled by parseJson does not break parsing here.
func parseFlags(config *Config, argv []string) {
	args := flagx.FilterArgs(argv, serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.MasterSecret, "k", config.MasterSecret, "capsule master secret")

	burstKeyTTL := fs.Int("t", int(config.BurstKeyTTL.Minutes()), "burst key validity (in minutes)")
	fs.IntVar(&config.AuditQueryLimit, "l", config.AuditQueryLimit, "max audit entries per query")
	sweepInterval := fs.Int("i", int(config.SweepInterval.Seconds()), "expiry sweep interval (in seconds)")

	fs.StringVar(&config.LedgerEndpoint, "x", config.LedgerEndpoint, "ledger mirror endpoint")
	fs.StringVar(&config.LockBackend, "o", config.LockBackend, "grant lock backend (postgres|redis)")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.BurstKeyTTL = time.Duration(*burstKeyTTL) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Second
}
