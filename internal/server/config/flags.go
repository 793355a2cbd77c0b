package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/vkushnir/filevault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8443")
//	-d string   PostgreSQL DSN
//	-k string   master key file path
//	-o string   storage backend ("fs" or "s3")
//	-f string   filesystem storage root
//	-t int      session token validity, minutes
//	-m int      max upload size, bytes
//	-x string   comma-separated filename suffix allow-list
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-o", "-f", "-t", "-m", "-x", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterKeyPath, "k", config.MasterKeyPath, "master key file path")
	fs.StringVar(&config.StorageBackend, "o", config.StorageBackend, "storage backend (fs or s3)")
	fs.StringVar(&config.StoragePath, "f", config.StoragePath, "filesystem storage root")

	tokenValidityDuration := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token_validity_duration (in minutes)")
	fs.Int64Var(&config.MaxUploadSize, "m", config.MaxUploadSize, "max upload size (in bytes)")
	suffixes := fs.String("x", strings.Join(config.AllowedFileSuffixes, ","), "allowed filename suffixes (comma-separated)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidityDuration) * time.Minute
	config.AllowedFileSuffixes = strings.Split(*suffixes, ",")
}
