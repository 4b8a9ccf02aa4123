package main

import (
	"flag"

	"github.com/jmhodges/clock"

	"github.com/i-bosquet/petconnect/ca"
	"github.com/i-bosquet/petconnect/cmd"
	"github.com/i-bosquet/petconnect/keyvault"
	"github.com/i-bosquet/petconnect/payload"
	"github.com/i-bosquet/petconnect/policy"
	"github.com/i-bosquet/petconnect/publisher"
	"github.com/i-bosquet/petconnect/sa"
	"github.com/i-bosquet/petconnect/tokens"
)

// Config defines the JSON configuration file schema for the certificate
// authority daemon.
type Config struct {
	CA struct {
		DBConnect    string `json:"dbConnect" validate:"required"`
		MaxOpenConns int    `json:"maxOpenConns"`

		// KeyDirectory is the base directory principal key paths are
		// resolved against.
		KeyDirectory string `json:"keyDirectory" validate:"required"`
		KeyCacheSize int    `json:"keyCacheSize" validate:"min=1"`

		// TokenSecret is the server-held symmetric secret delegated
		// access tokens are signed with.
		TokenSecret string `json:"tokenSecret" validate:"required"`

		AMQP struct {
			Server string `json:"server" validate:"required"`
		} `json:"amqp"`

		Syslog struct {
			Network string `json:"network"`
			Addr    string `json:"addr"`
		} `json:"syslog"`

		DebugAddr string `json:"debugAddr"`
	} `json:"ca"`
}

func main() {
	configFile := flag.String("config", "config.json", "Path to the configuration file")
	flag.Parse()

	var config Config
	err := cmd.ReadConfigFile(*configFile, &config)
	cmd.FailOnError(err, "Failed to read configuration")

	logger, stats, err := cmd.StatsAndLogging(
		config.CA.Syslog.Network, config.CA.Syslog.Addr, config.CA.DebugAddr)
	cmd.FailOnError(err, "Failed to set up logging")
	logger.Info("Certificate Authority Starting")

	clk := clock.New()

	dbMap, err := sa.NewDbMap(config.CA.DBConnect, config.CA.MaxOpenConns)
	cmd.FailOnError(err, "Failed to connect to database")

	storage, err := sa.NewSQLStorageAuthority(dbMap, clk, logger)
	cmd.FailOnError(err, "Failed to create storage authority")

	amqpPublisher, err := publisher.NewAMQPPublisher(config.CA.AMQP.Server, logger)
	cmd.FailOnError(err, "Failed to connect to AMQP")

	vault := keyvault.New(config.CA.KeyDirectory, config.CA.KeyCacheSize, storage, logger)
	evidence := policy.NewEvidenceAuthority(storage, clk, logger)
	builder := payload.NewBuilder(clk)

	authority := ca.NewCertificateAuthorityImpl(
		storage, storage, evidence, builder, vault, amqpPublisher, clk, logger, stats)

	minter := tokens.NewMinter([]byte(config.CA.TokenSecret), clk, logger)

	// The front end binds the authority and the minter over its
	// transport elsewhere; this process owns issuance, metrics and the
	// key vault lifecycle.
	_, _ = authority, minter

	cmd.CatchSignals(logger, func() {
		vault.Close()
		amqpPublisher.Close()
	})
}
