package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rgbnetwork/rgb-wallet/internal/btc"
	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
	"github.com/rgbnetwork/rgb-wallet/internal/wallet"
)

type Application struct {
	Wallet *wallet.Wallet
	Online wallet.Online
}

func NewApplication() *Application {
	config.InitConfig()

	btcClient, err := btc.DialRpc(config.AppConfig.IndexerURL)
	if err != nil {
		log.Fatalf("Failed to start bitcoin client: %v", err)
	}
	net := types.GetBTCNetwork(config.AppConfig.BTCNetworkType)
	keyRing := btc.NewRpcKeyRing(btcClient, false)
	txBuilder := btc.NewRpcTxBuilder(btcClient, net)

	w, err := wallet.New(wallet.Params{
		DataDir:   config.AppConfig.DataDir,
		KeyRing:   keyRing,
		TxBuilder: txBuilder,
	})
	if err != nil {
		log.Fatalf("Failed to initialize wallet: %v", err)
	}

	return &Application{Wallet: w}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	online, err := app.Wallet.GoOnline(ctx, false, config.AppConfig.IndexerURL)
	if err != nil {
		log.Fatalf("Failed to go online: %v", err)
	}
	app.Online = online

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.refreshLoop(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Wallet stopped")
}

// refreshLoop advances pending transfers in the background so incoming
// consignments are acked and outgoing transactions broadcast without the
// caller having to poll.
func (app *Application) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := app.Wallet.Refresh(ctx, app.Online, "", nil, false)
			if err != nil {
				log.Errorf("Refresh failed: %v", err)
				continue
			}
			if changed {
				log.Info("Refresh advanced pending transfers")
			}
		}
	}
}

func main() {
	app := NewApplication()
	app.Run()
}
