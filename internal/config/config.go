package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

type Config struct {
	DataDir               string
	BTCNetworkType        string
	IndexerURL            string
	BTCRPCUser            string
	BTCRPCPass            string
	MinConfirmations      uint8
	MaxAllocationsPerUtxo uint32
	UtxoNum               uint8
	UtxoSize              uint32
	MinFeeRate            uint64
	MaxFeeRate            uint64
	ProxyTimeout          time.Duration
	RefreshInterval       time.Duration
	DurationRcvTransfer   uint32
	DurationSendTransfer  int64
	LogLevel              logrus.Level
}

func InitConfig() {
	// optional .env file for local development
	_ = godotenv.Load()
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("DATA_DIR", "/app/data")
	viper.SetDefault("BTC_NETWORK_TYPE", "regtest")
	viper.SetDefault("INDEXER_URL", "http://localhost:18443")
	viper.SetDefault("BTC_RPC_USER", "")
	viper.SetDefault("BTC_RPC_PASS", "")
	viper.SetDefault("MIN_CONFIRMATIONS", 1)
	viper.SetDefault("MAX_ALLOCATIONS_PER_UTXO", 5)
	viper.SetDefault("UTXO_NUM", 5)
	viper.SetDefault("UTXO_SIZE", 1000)
	viper.SetDefault("MIN_FEE_RATE", 1)
	viper.SetDefault("MAX_FEE_RATE", 1000)
	viper.SetDefault("PROXY_TIMEOUT", "30s")
	viper.SetDefault("REFRESH_INTERVAL", "30s")
	viper.SetDefault("DURATION_RCV_TRANSFER", 86400)
	viper.SetDefault("DURATION_SEND_TRANSFER", 3600)
	viper.SetDefault("LOG_LEVEL", "info")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		DataDir:               viper.GetString("DATA_DIR"),
		BTCNetworkType:        viper.GetString("BTC_NETWORK_TYPE"),
		IndexerURL:            viper.GetString("INDEXER_URL"),
		BTCRPCUser:            viper.GetString("BTC_RPC_USER"),
		BTCRPCPass:            viper.GetString("BTC_RPC_PASS"),
		MinConfirmations:      uint8(viper.GetUint("MIN_CONFIRMATIONS")),
		MaxAllocationsPerUtxo: viper.GetUint32("MAX_ALLOCATIONS_PER_UTXO"),
		UtxoNum:               uint8(viper.GetUint("UTXO_NUM")),
		UtxoSize:              viper.GetUint32("UTXO_SIZE"),
		MinFeeRate:            viper.GetUint64("MIN_FEE_RATE"),
		MaxFeeRate:            viper.GetUint64("MAX_FEE_RATE"),
		ProxyTimeout:          viper.GetDuration("PROXY_TIMEOUT"),
		RefreshInterval:       viper.GetDuration("REFRESH_INTERVAL"),
		DurationRcvTransfer:   viper.GetUint32("DURATION_RCV_TRANSFER"),
		DurationSendTransfer:  viper.GetInt64("DURATION_SEND_TRANSFER"),
		LogLevel:              logLevel,
	}

	logrus.SetLevel(AppConfig.LogLevel)

	if AppConfig.MaxAllocationsPerUtxo == 0 {
		logrus.Warnf("MAX_ALLOCATIONS_PER_UTXO is zero, set to 1")
		AppConfig.MaxAllocationsPerUtxo = 1
	}
	if AppConfig.MaxFeeRate < AppConfig.MinFeeRate {
		logrus.Fatalf("MAX_FEE_RATE %d is lower than MIN_FEE_RATE %d", AppConfig.MaxFeeRate, AppConfig.MinFeeRate)
	}
}
