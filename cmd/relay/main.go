package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/obscura-relay/relay/pkg/cryptokit"
	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/mtls"
	"github.com/obscura-relay/relay/pkg/relay"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	signingKeyFile := flag.String("signing-key", "signing.key", "ed25519 bootstrap-signing key file path")
	version := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *version {
		fmt.Printf("obscura-relay %s (built %s)\n", Version, BuildTime)
		return
	}

	cfg, err := relay.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	privateKey, err := relay.LoadOrGeneratePrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		log.Fatalf("Failed to load private key: %v", err)
	}

	signingKey, err := loadOrGenerateSigningKey(*signingKeyFile)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	dir := directory.NewService(cfg.NumLayers, signingKey)

	var mtlsClient *mtls.Client
	if cfg.TLS.CAFile != "" && cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		mtlsClient, err = mtls.NewClient(&mtls.Config{
			CAFile:   cfg.TLS.CAFile,
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		})
		if err != nil {
			log.Fatalf("Failed to build mTLS client: %v", err)
		}
	} else {
		log.Println("WARNING: no TLS configured for relay-to-relay links (use for testing only)")
	}

	r, err := relay.New(*cfg, privateKey, dir, mtlsClient)
	if err != nil {
		log.Fatalf("Failed to construct relay: %v", err)
	}

	node := &directory.MixNode{
		ID:          r.NodeID(),
		Layer:       cfg.Layer,
		Address:     cfg.Address,
		WireAddress: cfg.WireAddress,
		Location:    cfg.Location,
		PublicKey:   publicKeyFor(privateKey),
	}
	if err := dir.RegisterNode(node); err != nil {
		log.Fatalf("Failed to register self in directory: %v", err)
	}

	server := relay.NewServer(r, cfg.Address, cfg.RateLimit)

	wireServer, err := relay.NewWireServer(r, cfg.WireAddress)
	if err != nil {
		log.Fatalf("Failed to bind wire transport: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("Starting obscura-relay %s on %s (layer %d)", Version, cfg.Address, cfg.Layer)
		if err := server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Starting wire transport on %s", cfg.WireAddress)
		if err := wireServer.Serve(); err != nil {
			log.Printf("Wire transport stopped: %v", err)
		}
	}()

	go r.RunMaintenance(ctx)
	go r.RunCoverTraffic(ctx)

	waitForShutdown()

	log.Println("Shutting down...")
	cancel()
	r.Close()
	if err := server.Close(); err != nil {
		log.Printf("Error closing server: %v", err)
	}
	if err := wireServer.Close(); err != nil {
		log.Printf("Error closing wire transport: %v", err)
	}
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

// loadOrGenerateSigningKey loads the ed25519 key used to sign bootstrap
// sets, generating and persisting a fresh one on first run.
func loadOrGenerateSigningKey(filename string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		_, priv, genErr := ed25519.GenerateKey(nil)
		if genErr != nil {
			return nil, genErr
		}
		if writeErr := os.WriteFile(filename, priv, 0600); writeErr != nil {
			log.Printf("Warning: failed to persist signing key: %v", writeErr)
		}
		return priv, nil
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signing key size: %d", len(data))
	}
	return ed25519.PrivateKey(data), nil
}

// publicKeyFor derives the X25519 public key from the relay's private
// scalar, mirroring cryptokit.GenerateKeyPair's curve25519 basepoint
// multiplication for an already-generated private key.
func publicKeyFor(private [32]byte) [32]byte {
	return cryptokit.PublicKeyFromPrivate(private)
}
